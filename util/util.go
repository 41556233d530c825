package util

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/google/go-github/github"
	"github.com/spf13/afero"
)

var (
	privateIPBlocks []Subnet

	ErrInvalidPath     = errors.New("path cannot be empty string")
	ErrInvalidSubnet   = errors.New("invalid subnet")
	ErrFileSystemIsNil = errors.New("filesystem is nil")

	ErrFileDoesNotExist = errors.New("file does not exist")
	ErrFileIsEmtpy      = errors.New("file is empty")
	ErrPathIsDir        = errors.New("given path is a directory, not a file")

	ErrDirDoesNotExist = errors.New("directory does not exist")
	ErrDirIsEmpty      = errors.New("directory is empty")
	ErrPathIsNotDir    = errors.New("given path is not a directory")

	ErrFetchingLatestRelease = errors.New("error fetching latest release")
	ErrParsingCurrentVersion = errors.New("error parsing current version")
	ErrParsingLatestVersion  = errors.New("error parsing latest version")
)

// readFile, getUserHomeDir and getWorkingDir can be swapped out for testing
var readFile = func(afs afero.Fs, path string) ([]byte, error) {
	return afero.ReadFile(afs, path)
}
var getUserHomeDir = os.UserHomeDir
var getWorkingDir = os.Getwd
var pathExists = afero.Exists
var isDirectory = afero.IsDir
var isEmpty = afero.IsEmpty

func init() {
	privateIPs, err := NewSubnetList(
		[]string{
			// "127.0.0.0/8",    // IPv4 Loopback; handled by ip.IsLoopback
			// "::1/128",        // IPv6 Loopback; handled by ip.IsLoopback
			// "169.254.0.0/16", // RFC3927 link-local; handled by ip.IsLinkLocalUnicast()
			// "fe80::/10",      // IPv6 link-local; handled by ip.IsLinkLocalUnicast()
			"10.0.0.0/8",     // RFC1918
			"172.16.0.0/12",  // RFC1918
			"192.168.0.0/16", // RFC1918
			"fc00::/7",       // IPv6 unique local addr
		})

	if err == nil {
		privateIPBlocks = privateIPs
	} else {
		panic(fmt.Sprintf("Error defining private IPs: %v", err.Error()))
	}
}

// ContainsIP checks if a collection of subnets contains an IP
func ContainsIP(subnets []Subnet, ip net.IP) bool {
	// cache IPv4 conversion so it not performed every in every Contains call
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}

	for _, block := range subnets {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// IPIsPubliclyRoutable checks if an IP address is publicly routable. See privateIPBlocks.
func IPIsPubliclyRoutable(ip net.IP) bool {
	// cache IPv4 conversion so it not performed every in every ip.IsXXX method
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}

	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}

	if ContainsIP(privateIPBlocks, ip) {
		return false
	}
	return true
}

// ValidIP checks that a string parses as an IP address
func ValidIP(value string) bool {
	return net.ParseIP(strings.TrimSpace(value)) != nil
}

func ValidateTimestamp(timestamp time.Time) (time.Time, bool) {
	if timestamp.UTC().Unix() > 0 && timestamp.UTC().Unix() < math.MaxInt64 {
		return timestamp, false
	}
	return time.Unix(0, 1), true
}

// FormatDuration renders a duration as a short human readable string,
// using the two most significant units (90061s becomes "1d 1h")
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "permanent"
	}

	seconds := int64(d.Seconds())
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case days > 0:
		if hours > 0 {
			return fmt.Sprintf("%dd %dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", minutes, secs)
		}
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func ParseRelativePath(dir string) (string, error) {
	// validate parameters
	if dir == "" {
		return "", ErrInvalidPath
	}

	switch {
	// if path is home, parse and set home dir
	case strings.HasPrefix(dir, "~/"):
		home, err := getUserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, dir[2:]), nil
	// if the path starts with a dot, get the path relative to the current working directory
	case strings.HasPrefix(dir, "."):
		currentDir, err := getWorkingDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(currentDir, dir), nil
	default:
		// otherwise, return the directory as is
		return dir, nil

	}

}

// ValidateDirectory returns whether a directory exists and is empty
func ValidateDirectory(afs afero.Fs, dir string) error {
	// validate path
	exists, isDir, isEmpty, err := validatePath(afs, dir)
	if err != nil {
		return err
	}

	// check if dirctory exists
	if !exists {
		return fmt.Errorf("%w: %s", ErrDirDoesNotExist, dir)
	}

	// check if path is a directory
	if !isDir {
		return fmt.Errorf("%w: %s", ErrPathIsNotDir, dir)
	}

	// check if file is empty
	if isEmpty {
		return fmt.Errorf("%w: %s", ErrDirIsEmpty, dir)
	}

	return nil
}

// Validate File
func ValidateFile(afs afero.Fs, file string) error {
	// validate path
	exists, isDir, isEmpty, err := validatePath(afs, file)
	if err != nil {
		return err
	}

	// check if file exists
	if !exists {
		return fmt.Errorf("%w: %s", ErrFileDoesNotExist, file)
	}

	// check if path is a directory
	if isDir {
		return fmt.Errorf("%w: %s", ErrPathIsDir, file)
	}

	// check if file is empty
	if isEmpty {
		return fmt.Errorf("%w: %s", ErrFileIsEmtpy, file)
	}

	return nil
}

func validatePath(afs afero.Fs, path string) (bool, bool, bool, error) {
	var exists, isDir, empty bool

	// validate parameters
	if afs == nil {
		return exists, isDir, empty, ErrFileSystemIsNil
	}
	if path == "" {
		return exists, isDir, empty, ErrInvalidPath
	}

	// check if path exists
	exists, err := pathExists(afs, path)
	if err != nil {
		return exists, isDir, empty, err
	}

	if exists {
		// check if path is a directory
		isDir, err = isDirectory(afs, path)
		if err != nil {
			return exists, isDir, empty, err
		}

		// check if directory is empty
		empty, err = isEmpty(afs, path)
		if err != nil {
			return exists, isDir, empty, err
		}
	}

	return exists, isDir, empty, nil
}

// GetFileContents validates a file and returns its contents
func GetFileContents(afs afero.Fs, path string) ([]byte, error) {
	// validate the file
	if err := ValidateFile(afs, path); err != nil {
		return nil, err
	}

	// read the file
	contents, err := readFile(afs, path)
	if err != nil {
		return nil, err
	}

	return contents, nil
}

// GetLatestReleaseVersion fetches the tag name of the latest release of a GitHub repository
func GetLatestReleaseVersion(client *github.Client, owner string, repo string) (string, error) {
	latestRelease, _, err := client.Repositories.GetLatestRelease(context.Background(), owner, repo)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchingLatestRelease, err)
	}

	// Get the latest version from release tag name
	return latestRelease.GetTagName(), nil
}

// CheckForNewerVersion checks if a newer version of the project is available on the GitHub repository
func CheckForNewerVersion(client *github.Client, currentVersion string) (bool, string, error) {

	// Get the latest release
	latestVersion, err := GetLatestReleaseVersion(client, "ramparthq", "rampart")
	if err != nil {
		return false, "", err
	}

	// Parse the current and latest versions
	currentSemver, err := semver.ParseTolerant(currentVersion)
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrParsingCurrentVersion, err)
	}

	latestSemver, err := semver.ParseTolerant(latestVersion)
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrParsingLatestVersion, err)
	}

	// Compare the versions
	if latestSemver.GT(currentSemver) {
		return true, latestVersion, nil
	}

	return false, latestVersion, nil
}
