package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600

	// DownloadFilePerm is the permission for files written by downloads.
	DownloadFilePerm = 0600
)

// API endpoint layout.
const (
	// DefaultHost is the production VirusTotal host.
	DefaultHost = "https://www.virustotal.com"

	// EndpointPrefix is prepended to every relative API path.
	EndpointPrefix = "/api/v3"

	// DefaultAgent identifies callers that did not provide an agent string.
	DefaultAgent = "unknown"

	// LibraryName is the library token embedded in the User-Agent header.
	LibraryName = "vtgo"

	// UserAgentFormat builds the User-Agent header from agent and version.
	// The server only serves gzipped content to non-standard user agents
	// that contain the string "gzip", whatever Accept-Encoding says.
	UserAgentFormat = "%s; " + LibraryName + " %s; gzip"
)

// Request headers.
const (
	// HeaderAPIKey carries the API key on every request.
	HeaderAPIKey = "X-Apikey"

	// HeaderAcceptEncoding is the standard Accept-Encoding header.
	HeaderAcceptEncoding = "Accept-Encoding"

	// HeaderContentEncoding is the standard Content-Encoding header.
	HeaderContentEncoding = "Content-Encoding"

	// HeaderContentType is the standard Content-Type header.
	HeaderContentType = "Content-Type"

	// HeaderUserAgent is the standard User-Agent header.
	HeaderUserAgent = "User-Agent"

	// EncodingGzip is the only content encoding requested from the server.
	EncodingGzip = "gzip"

	// ContentTypeJSON is sent with object mutation bodies.
	ContentTypeJSON = "application/json"
)

// Streaming and buffering sizes.
const (
	// DownloadChunkSize is the size of each chunk pulled during downloads (1 MiB).
	DownloadChunkSize = 1024 * 1024

	// ReadAnySize bounds a single read-until-any-available call.
	ReadAnySize = 64 * 1024

	// StreamBufferSize is the buffer size of response stream readers.
	StreamBufferSize = 64 * 1024
)

// Retry defaults, only used when retries are explicitly enabled.
const (
	// DefaultRetryWaitMin is the minimum wait between retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 30 * time.Second
)

// Feed settings.
const (
	// FeedCursorLayout is the time layout of feed package names.
	FeedCursorLayout = "200601021504"

	// FeedDefaultLag is how far behind now a feed starts without a cursor.
	FeedDefaultLag = 60 * time.Minute

	// FeedMaxMissing is the number of consecutive missing packages skipped
	// before a feed gives up.
	FeedMaxMissing = 60
)

// Batch settings.
const (
	// DefaultBatchConcurrency is the number of batch operations in flight.
	DefaultBatchConcurrency = 4

	// DefaultBatchTimeout bounds each batch operation.
	DefaultBatchTimeout = 60 * time.Second
)

// HTTP status codes commonly used.
const (
	// HTTPStatusOK represents a successful HTTP response.
	HTTPStatusOK = 200

	// HTTPStatusBadRequest is the first client error status.
	HTTPStatusBadRequest = 400

	// HTTPStatusLastClientError is the last client error status.
	HTTPStatusLastClientError = 499
)

// Format constants.
const (
	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"

	// FormatTable for table output format.
	FormatTable = "table"
)
