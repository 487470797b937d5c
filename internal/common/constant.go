package common

// DefaultMaxFileSize caps a single ingested file (10 MiB).
const DefaultMaxFileSize int64 = 10 << 20

// FileTypePDF is the only file-type tag accepted by default.
const FileTypePDF = "pdf"
