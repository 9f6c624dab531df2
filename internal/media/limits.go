package media

// MaxAssetBytes is the default max accepted payload size.
const MaxAssetBytes int64 = 64 * 1024 * 1024

// sniffLen is how many leading bytes are inspected to detect a content type.
const sniffLen = 3072
