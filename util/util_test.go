package util

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"testing"
	"time"

	"github.com/google/go-github/github"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestContainsIP(t *testing.T) {
	tests := []struct {
		name      string
		subnets   []Subnet
		ip        net.IP
		contained bool
	}{
		{
			name: "IP in subnet",
			subnets: []Subnet{
				{&net.IPNet{IP: net.IP{192, 168, 1, 0}.To16(), Mask: net.CIDRMask(24+96, 128)}},
			},
			ip:        net.IP{192, 168, 1, 1},
			contained: true,
		},
		{
			name: "IP not in subnet",
			subnets: []Subnet{
				{&net.IPNet{IP: net.IP{192, 168, 1, 0}.To16(), Mask: net.CIDRMask(24+96, 128)}},
			},
			ip:        net.IP{10, 0, 0, 1},
			contained: false,
		},
		{
			name: "IP in multiple subnets",
			subnets: []Subnet{
				{&net.IPNet{IP: net.IP{192, 168, 1, 0}.To16(), Mask: net.CIDRMask(24+96, 128)}},
				{&net.IPNet{IP: net.IP{10, 0, 0, 0}.To16(), Mask: net.CIDRMask(8+96, 128)}},
			},
			ip:        net.IP{10, 0, 0, 1},
			contained: true,
		},
		{
			name: "IPv6 address in subnet",
			subnets: []Subnet{
				{&net.IPNet{IP: net.ParseIP("2001:db8::"), Mask: net.CIDRMask(32, 128)}},
			},
			ip:        net.ParseIP("2001:db8::1"),
			contained: true,
		},
		{
			name: "IPv6 address not in subnet",
			subnets: []Subnet{
				{&net.IPNet{IP: net.ParseIP("2001:db8::"), Mask: net.CIDRMask(32, 128)}},
			},
			ip:        net.ParseIP("2001:db9::1"),
			contained: false,
		},
		{
			name:      "Empty subnets list",
			subnets:   []Subnet{},
			ip:        net.IP{192, 168, 1, 1},
			contained: false,
		},
		{
			name: "IP in overlapping subnets",
			subnets: []Subnet{
				{&net.IPNet{IP: net.IP{192, 168, 0, 0}.To16(), Mask: net.CIDRMask(16+96, 128)}},
				{&net.IPNet{IP: net.IP{192, 168, 1, 0}.To16(), Mask: net.CIDRMask(24+96, 128)}},
			},
			ip:        net.IP{192, 168, 1, 1},
			contained: true,
		},
		{
			name: "IP in smaller overlapping subnet",
			subnets: []Subnet{
				{&net.IPNet{IP: net.IP{192, 168, 0, 0}.To16(), Mask: net.CIDRMask(16+96, 128)}},
				{&net.IPNet{IP: net.IP{192, 168, 1, 0}.To16(), Mask: net.CIDRMask(28+96, 128)}},
			},
			ip:        net.IP{192, 168, 1, 1},
			contained: true,
		},
		{
			name:      "IP in IPv4 mapped IPv6 address",
			subnets:   NewTestSubnetList(t, []string{"::ffff:192.168.0.0/112", "::ffff:192.168.1.0/124"}),
			ip:        net.IP{192, 168, 1, 1},
			contained: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := ContainsIP(test.subnets, test.ip)
			require.Equal(t, test.contained, result, "contained should match expected value")
		})
	}
}

func TestIPIsPubliclyRoutable(t *testing.T) {
	tests := []struct {
		name     string
		ip       net.IP
		routable bool
	}{
		{
			name:     "Private IPv4 Address 1",
			ip:       net.IP{10, 0, 0, 1},
			routable: false,
		},
		{
			name:     "Private IPv4 Address 2",
			ip:       net.IP{172, 16, 0, 1},
			routable: false,
		},
		{
			name:     "Private IPv4 Address 3",
			ip:       net.IP{192, 168, 1, 1},
			routable: false,
		},
		{
			name:     "Private IPv6 address",
			ip:       net.ParseIP("fc00::1"),
			routable: false,
		},
		{
			name:     "Public IPv4 Address 1",
			ip:       net.IP{8, 8, 8, 8},
			routable: true,
		},
		{
			name:     "Public IPv4 Address 2",
			ip:       net.IP{172, 217, 22, 14},
			routable: true,
		},
		{
			name:     "Public IPv6 address",
			ip:       net.ParseIP("2001:4860:4860::8888"),
			routable: true,
		},
		{
			name:     "Loopback IPv4 address",
			ip:       net.IP{127, 0, 0, 1},
			routable: false,
		},
		{
			name:     "Link-local IPv4 Address",
			ip:       net.IP{169, 254, 0, 1},
			routable: false,
		},
		{
			name:     "Loopback IPv6 address",
			ip:       net.ParseIP("::1"),
			routable: false,
		},
		{
			name:     "Link-local IPv6 address",
			ip:       net.ParseIP("fe80::1"),
			routable: false,
		},
		{
			name:     "Multicast IPv6 address",
			ip:       net.ParseIP("ff02::1"),
			routable: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IPIsPubliclyRoutable(test.ip)
			require.Equal(t, test.routable, result, "routable should match expected value")
		})
	}
}

func TestValidIP(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{
			name:    "Valid IPv4 Address",
			address: "203.0.113.50",
			valid:   true,
		},
		{
			name:    "Valid IPv6 Address",
			address: "2001:db8::1",
			valid:   true,
		},
		{
			name:    "Address With Surrounding Whitespace",
			address: "  203.0.113.50  ",
			valid:   true,
		},
		{
			name:    "Hostname",
			address: "example.com",
			valid:   false,
		},
		{
			name:    "CIDR Range",
			address: "203.0.113.0/24",
			valid:   false,
		},
		{
			name:    "Empty String",
			address: "",
			valid:   false,
		},
		{
			name:    "Octet Out of Range",
			address: "203.0.113.256",
			valid:   false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := ValidIP(test.address)
			require.Equal(t, test.valid, result, "valid should match expected value")
		})
	}
}

func TestValidateTimestamp(t *testing.T) {
	tests := []struct {
		name         string
		timestamp    time.Time
		expectedTime time.Time
		replaced     bool
	}{
		{
			name:         "Valid timestamp",
			timestamp:    time.Date(2024, time.June, 3, 23, 24, 10, 0, time.Local),
			expectedTime: time.Date(2024, time.June, 3, 23, 24, 10, 0, time.Local),
			replaced:     false,
		},
		{
			name:         "Log Floating-Pont Timestamp",
			timestamp:    time.Unix(1517336108, int64((0.231879)*1e9)), // 1517336108.231879
			expectedTime: time.Unix(1517336108, 231879000),
			replaced:     false,
		},
		{
			name:         "Unset Timestamp",
			timestamp:    time.Time{},
			expectedTime: time.Unix(0, 1),
			replaced:     true,
		},
		{
			name:         "MaxInt64 timestamp",
			timestamp:    time.Unix(math.MaxInt64, 0),
			expectedTime: time.Unix(0, 1),
			replaced:     true,
		},
		{
			name:         "Negative timestamp",
			timestamp:    time.Unix(-1, 0),
			expectedTime: time.Unix(0, 1),
			replaced:     true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ts, replaced := ValidateTimestamp(test.timestamp)
			require.Equal(t, test.expectedTime, ts, "timestamp should match expected value")
			require.Equal(t, test.replaced, replaced, "replaced should match expected value")
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{
			name:     "Negative Duration is Permanent",
			duration: -1 * time.Second,
			expected: "permanent",
		},
		{
			name:     "Seconds Only",
			duration: 45 * time.Second,
			expected: "45s",
		},
		{
			name:     "Zero Duration",
			duration: 0,
			expected: "0s",
		},
		{
			name:     "Exact Minutes",
			duration: 5 * time.Minute,
			expected: "5m",
		},
		{
			name:     "Minutes and Seconds",
			duration: 5*time.Minute + 30*time.Second,
			expected: "5m 30s",
		},
		{
			name:     "Exact Hours",
			duration: 2 * time.Hour,
			expected: "2h",
		},
		{
			name:     "Hours and Minutes",
			duration: time.Hour + 30*time.Minute,
			expected: "1h 30m",
		},
		{
			name:     "Days and Hours",
			duration: 25 * time.Hour,
			expected: "1d 1h",
		},
		{
			name:     "Exact Days",
			duration: 72 * time.Hour,
			expected: "3d",
		},
		{
			name:     "Drops Third Unit",
			duration: 24*time.Hour + time.Minute,
			expected: "1d",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := FormatDuration(test.duration)
			require.Equal(t, test.expected, result, "formatted duration should match expected value")
		})
	}
}

func TestParseRelativePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	workingDir, err := os.Getwd()
	require.NoError(t, err)

	currentDir := path.Dir(path.Join(workingDir))

	tests := []struct {
		name               string
		path               string
		mockGetUserHomeDir func() (string, error)
		mockGetWorkingDir  func() (string, error)
		expected           string
		expectedErr        error
	}{
		{
			name:     "Home directory",
			path:     "~/data",
			expected: home + "/data",
		},
		{
			name:     "Current directory path",
			path:     "./",
			expected: workingDir,
		},
		{
			name:     "Relative directory - 1 deep",
			path:     "./data",
			expected: workingDir + "/data",
		},
		{
			name:     "Relative directory - 2 deep",
			path:     "../data",
			expected: currentDir + "/data",
		},
		{
			name:     "Absolute path",
			path:     "/home/logs",
			expected: "/home/logs",
		},
		{
			name:        "Empty path",
			expected:    "",
			expectedErr: ErrInvalidPath,
		},
		{
			name: "Error Getting User Home Directory",
			path: "~/data",
			mockGetUserHomeDir: func() (string, error) {
				return "", fmt.Errorf("forced get user home dir error")
			},
			expectedErr: fmt.Errorf("forced get user home dir error"),
		},
		{
			name: "Error Getting Working Directory",
			path: "./data",
			mockGetWorkingDir: func() (string, error) {
				return "", fmt.Errorf("forced get working dir error")
			},
			expectedErr: fmt.Errorf("forced get working dir error"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// restore the original functions after the test
			origGetUserHomeDir := getUserHomeDir
			origGetWorkingDir := getWorkingDir
			defer func() { getUserHomeDir = origGetUserHomeDir; getWorkingDir = origGetWorkingDir }()
			// mock functions if needed
			if test.mockGetUserHomeDir != nil {
				getUserHomeDir = test.mockGetUserHomeDir
			}
			if test.mockGetWorkingDir != nil {
				getWorkingDir = test.mockGetWorkingDir
			}

			result, err := ParseRelativePath(test.path)
			if test.expectedErr != nil {
				require.EqualError(t, err, test.expectedErr.Error(), "error should match expected value")
			} else {
				require.NoError(t, err, "parsing relative path should not produce an error")
				require.Equal(t, test.expected, result, "relative path should match expected value, got: %s, expected: %s", result, test.expected)
			}
		})
	}
}

func TestValidateDirectory(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(afs afero.Fs)
		dir            string
		mockPathExists func(fs afero.Fs, path string) (bool, error)
		expectedError  error
	}{
		{
			name: "Directory is Valid",
			setup: func(afs afero.Fs) {
				require.NoError(t, afs.Mkdir("/nonemptydir", 0755))
				require.NoError(t, afero.WriteFile(afs, "/nonemptydir/file.txt", []byte("content"), 0644))
			},
			dir:           "/nonemptydir",
			expectedError: nil,
		},
		{
			name:          "Directory Does Not Exist",
			setup:         func(_ afero.Fs) {},
			dir:           "/nonexistent",
			expectedError: ErrDirDoesNotExist,
		},
		{
			name: "Path is Not a Directory",
			setup: func(afs afero.Fs) {
				require.NoError(t, afero.WriteFile(afs, "/file.txt", []byte("content"), 0644))
			},
			dir:           "/file.txt",
			expectedError: ErrPathIsNotDir,
		},
		{
			name: "Directory is Empty",
			setup: func(afs afero.Fs) {
				require.NoError(t, afs.Mkdir("/emptydir", 0755))
			},
			dir:           "/emptydir",
			expectedError: ErrDirIsEmpty,
		},
		{
			name:  "Validate Path Error",
			setup: func(_ afero.Fs) {},
			dir:   "/some/path",
			mockPathExists: func(_ afero.Fs, _ string) (bool, error) {
				return false, fmt.Errorf("forced existence check error")
			},
			expectedError: fmt.Errorf("forced existence check error"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// restore the original functions after the test
			origPathExists := pathExists
			defer func() { pathExists = origPathExists }()

			// mock functions if needed
			if test.mockPathExists != nil {
				pathExists = test.mockPathExists
			}

			afs := afero.NewMemMapFs()
			test.setup(afs)

			err := ValidateDirectory(afs, test.dir)
			if test.expectedError != nil {
				require.Error(t, err, "error should not be nil")
				require.ErrorContains(t, err, test.expectedError.Error(), "error should contain expected value")
			} else {
				require.NoError(t, err, "validating directory should not produce an error")
			}
		})
	}
}

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(afs afero.Fs)
		file           string
		mockPathExists func(fs afero.Fs, path string) (bool, error)
		expectedError  error
	}{
		{
			name: "File is Valid",
			setup: func(afs afero.Fs) {
				require.NoError(t, afero.WriteFile(afs, "/file.txt", []byte("content"), 0644))
			},
			file: "/file.txt",
		},
		{
			name: "File is Empty",
			setup: func(afs afero.Fs) {
				require.NoError(t, afero.WriteFile(afs, "/emptyfile.txt", []byte(""), 0644))
			},
			file:          "/emptyfile.txt",
			expectedError: ErrFileIsEmtpy,
		},
		{
			name:          "File Does Not Exist",
			setup:         func(_ afero.Fs) {},
			file:          "/nonexistent",
			expectedError: ErrFileDoesNotExist,
		},
		{
			name: "Path is a Directory",
			setup: func(afs afero.Fs) {
				require.NoError(t, afs.Mkdir("/directory", 0755))
			},
			file:          "/directory",
			expectedError: ErrPathIsDir,
		},
		{
			name:  "Validate Path Error",
			setup: func(_ afero.Fs) {},
			file:  "/some/path",
			mockPathExists: func(_ afero.Fs, _ string) (bool, error) {
				return false, fmt.Errorf("forced existence check error")
			},
			expectedError: fmt.Errorf("forced existence check error"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// restore the original functions after the test
			origPathExists := pathExists
			defer func() { pathExists = origPathExists }()

			// mock functions if needed
			if test.mockPathExists != nil {
				pathExists = test.mockPathExists
			}

			afs := afero.NewMemMapFs()
			test.setup(afs)

			err := ValidateFile(afs, test.file)
			if test.expectedError != nil {
				require.Error(t, err, "error should not be nil")
				require.ErrorContains(t, err, test.expectedError.Error(), "error should contain expected value")
			} else {
				require.NoError(t, err, "validating file should not produce an error")
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name            string
		setup           func(afs afero.Fs)
		path            string
		mockPathExists  func(fs afero.Fs, path string) (bool, error)
		mockIsDirectory func(fs afero.Fs, path string) (bool, error)
		mockIsEmpty     func(fs afero.Fs, path string) (bool, error)
		expected        [3]bool // exists, isDir, isEmpty
		expectedError   error
	}{
		{
			name: "Path is Valid Non-Empty File",
			setup: func(afs afero.Fs) {
				require.NoError(t, afero.WriteFile(afs, "/file.txt", []byte("content"), 0644))
			},
			path:          "/file.txt",
			expected:      [3]bool{true, false, false},
			expectedError: nil,
		},
		{
			name: "Path is Valid Empty File",
			setup: func(afs afero.Fs) {
				require.NoError(t, afero.WriteFile(afs, "/file.txt", []byte(""), 0644))
			},
			path:          "/file.txt",
			expected:      [3]bool{true, false, true},
			expectedError: nil,
		},
		{
			name: "Path is Valid Non-Empty Directory",
			setup: func(afs afero.Fs) {
				require.NoError(t, afs.Mkdir("/nonemptydir", 0755))
				require.NoError(t, afero.WriteFile(afs, "/nonemptydir/file.txt", []byte("content"), 0644))
			},
			path:          "/nonemptydir",
			expected:      [3]bool{true, true, false},
			expectedError: nil,
		},
		{
			name: "Path is Valid Empty Directory",
			setup: func(afs afero.Fs) {
				require.NoError(t, afs.Mkdir("/emptydir", 0755))
			},
			path:          "/emptydir",
			expected:      [3]bool{true, true, true},
			expectedError: nil,
		},
		{
			name:          "Non-Existent Path",
			setup:         func(_ afero.Fs) {},
			path:          "/nonexistent",
			expected:      [3]bool{false, false, false},
			expectedError: nil, // no error, just not found
		},
		{
			name:          "Empty Path",
			setup:         func(_ afero.Fs) {},
			path:          "",
			expected:      [3]bool{false, false, false},
			expectedError: ErrInvalidPath,
		},
		{
			name:          "Nil filesystem",
			setup:         func(_ afero.Fs) {},
			path:          "/some/path",
			expected:      [3]bool{false, false, false},
			expectedError: ErrFileSystemIsNil,
		},
		{
			name:           "Path Existece Check Error",
			setup:          func(_ afero.Fs) {},
			path:           "/some/path",
			mockPathExists: func(_ afero.Fs, _ string) (bool, error) { return false, fmt.Errorf("existence check forced error") },
			expected:       [3]bool{false, false, false},
			expectedError:  fmt.Errorf("existence check forced error"),
		},
		{
			name:            "Is Directory Check Error",
			setup:           func(afs afero.Fs) { require.NoError(t, afs.Mkdir("/emptydir", 0755)) },
			path:            "/emptydir",
			mockIsDirectory: func(_ afero.Fs, _ string) (bool, error) { return false, fmt.Errorf("isDir check forced error") },
			expected:        [3]bool{false, false, false},
			expectedError:   fmt.Errorf("isDir check forced error"),
		},
		{
			name:          "Is Empty Check Error",
			setup:         func(afs afero.Fs) { require.NoError(t, afs.Mkdir("/emptydir", 0755)) },
			path:          "/emptydir",
			mockIsEmpty:   func(_ afero.Fs, _ string) (bool, error) { return false, fmt.Errorf("isEmpty check forced error") },
			expected:      [3]bool{true, true, false},
			expectedError: fmt.Errorf("isEmpty check forced error"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// restore the original functions after the test
			origPathExists := pathExists
			origIsDirectory := isDirectory
			origIsEmpty := isEmpty
			defer func() { pathExists = origPathExists; isDirectory = origIsDirectory; isEmpty = origIsEmpty }()

			// mock functions if needed
			if test.mockPathExists != nil {
				pathExists = test.mockPathExists
			}
			if test.mockIsDirectory != nil {
				isDirectory = test.mockIsDirectory
			}
			if test.mockIsEmpty != nil {
				isEmpty = test.mockIsEmpty
			}

			var afs afero.Fs
			if test.name != "Nil filesystem" {
				afs = afero.NewMemMapFs()
			}
			test.setup(afs)

			exists, isDir, isEmpty, err := validatePath(afs, test.path)

			if test.expectedError != nil {
				require.Error(t, err)
				require.ErrorContains(t, err, test.expectedError.Error(), "error should contain expected value")
			} else {
				require.NoError(t, err, "validating path should not produce an error")
				require.Equal(t, test.expected[0], exists, "exist flag should be %v", test.expected[0])
				require.Equal(t, test.expected[1], isDir, "isDir flag should be %v", test.expected[1])
				require.Equal(t, test.expected[2], isEmpty, "isEmpty flag should be %v", test.expected[2])
			}
		})
	}
}

func TestGetFileContents(t *testing.T) {
	// define test cases
	tests := []struct {
		name          string
		path          string
		fileContents  []byte
		mockReadFile  func(afero.Fs, string) ([]byte, error)
		expectedError error
	}{
		{
			name:         "Valid Generated file",
			path:         "/valid/file/path",
			fileContents: []byte("file contents"),
		},
		{
			name:          "Empty File",
			path:          "/invalid/file/path",
			fileContents:  []byte(""),
			expectedError: ErrFileIsEmtpy,
		},
		{
			name:          "Invalid File Path",
			path:          "/missing/file/path",
			expectedError: ErrFileDoesNotExist,
		},
		{
			name:         "Read File Error",
			path:         "/valid/file/path",
			fileContents: []byte("file contents"),
			mockReadFile: func(_ afero.Fs, _ string) ([]byte, error) {
				return nil, fmt.Errorf("forced read file error")
			},
			expectedError: fmt.Errorf("forced read file error"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// restore the original function after the test
			originalReadFileFunc := readFile
			defer func() { readFile = originalReadFileFunc }()

			// mock the readFile function
			if test.mockReadFile != nil {
				readFile = test.mockReadFile
			}

			// create a new memory filesystem
			afs := afero.NewMemMapFs()

			// create the file if the test case specifies contents
			if test.fileContents != nil {
				require.NoError(t, afero.WriteFile(afs, test.path, test.fileContents, 0644), "failed to create file")
			}

			// call readFile and check the results
			result, err := GetFileContents(afs, test.path)

			// validate results
			if test.expectedError != nil {
				require.Error(t, err, "expected an error but got none")
				require.ErrorContains(t, err, test.expectedError.Error(), "error should contain expected value")

			} else {
				require.NoError(t, err, "did not expect an error but got one")
				require.Equal(t, test.fileContents, result, "file contents should match expected value")
			}

		})
	}

}

func TestCheckForNewerVersion(t *testing.T) {
	tests := []struct {
		name           string
		latestVersion  string
		currentVersion string
		expectedNewer  bool
		expectedError  error
	}{
		{
			name:           "Newer version available",
			latestVersion:  "v1.1.0",
			currentVersion: "v1.0.0",
			expectedNewer:  true,
		},
		{
			name:           "No newer version",
			latestVersion:  "v1.0.0",
			currentVersion: "v1.0.0",
			expectedNewer:  false,
		},
		{
			name:           "Invalid current version",
			latestVersion:  "v1.1.0",
			currentVersion: "invalid-version",
			expectedNewer:  false,
			expectedError:  ErrParsingCurrentVersion,
		},
		{
			name:           "Invalid latest version",
			latestVersion:  "invalid-version",
			currentVersion: "v1.0.0",
			expectedNewer:  false,
			expectedError:  ErrParsingLatestVersion,
		},
		{
			name:          "Error Fetching Latest Release",
			expectedError: ErrFetchingLatestRelease,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a test server
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.expectedError == ErrFetchingLatestRelease {
					http.Error(w, "error", http.StatusInternalServerError)
				} else {
					fmt.Fprintf(w, `{"tag_name": "%s"}`, tt.latestVersion)
				}
			}))
			defer ts.Close()

			// Override the GitHub client base URL
			client := github.NewClient(nil)
			newBaseURL, err := client.BaseURL.Parse(ts.URL + "/")
			require.NoError(t, err, "failed to parse base URL")
			client.BaseURL = newBaseURL

			// Check for newer version
			newer, version, err := CheckForNewerVersion(client, tt.currentVersion)

			// Check for expected error
			if tt.expectedError != nil {
				require.Error(t, err, "error was expected")
				require.ErrorContains(t, err, tt.expectedError.Error(), "error should contain expected value")
			} else {
				require.NoError(t, err, "checking for newer version should not produce an error")

				// Check the expected values
				require.Equal(t, tt.expectedNewer, newer)
				require.Equal(t, tt.latestVersion, version)
			}
		})
	}
}

func TestGetLatestReleaseVersion(t *testing.T) {
	tests := []struct {
		name          string
		owner         string
		repo          string
		latestVersion string
		expected      string
		expectedError error
	}{
		{
			name:          "Valid Latest Release",
			owner:         "ramparthq",
			repo:          "rampart",
			latestVersion: "v2.0.0",
			expected:      "v2.0.0",
		},
		{
			name:          "Error Fetching Latest Release",
			owner:         "ramparthq",
			repo:          "rampart",
			expected:      "",
			expectedError: ErrFetchingLatestRelease,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Create a test server
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if test.expectedError != nil {
					http.Error(w, "error", http.StatusInternalServerError)
				} else {
					fmt.Fprintf(w, `{"tag_name": "%s"}`, test.latestVersion)
				}
			}))
			defer ts.Close()

			// Override the GitHub client base URL
			client := github.NewClient(nil)
			newBaseURL, err := client.BaseURL.Parse(ts.URL + "/")
			require.NoError(t, err, "failed to parse base URL")
			client.BaseURL = newBaseURL

			result, err := GetLatestReleaseVersion(client, test.owner, test.repo)

			if test.expectedError != nil {
				require.Error(t, err, "error should not be nil")
				require.ErrorContains(t, err, test.expectedError.Error(), "error should contain expected value")
			} else {
				require.NoError(t, err, "fetching latest release should not produce an error")
				require.Equal(t, test.expected, result, "the result should match the expected value")
			}

		})
	}
}
