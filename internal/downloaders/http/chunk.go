package gdvlhttp

const (
	chunkSizeSmall  = 16 * 1024
	chunkSizeMedium = 64 * 1024
	chunkSizeLarge  = 256 * 1024
	chunkSizeXLarge = 1024 * 1024

	sizeThresholdSmall  = 10 * 1024 * 1024
	sizeThresholdMedium = 100 * 1024 * 1024
	sizeThresholdLarge  = 500 * 1024 * 1024
)

// ChunkSize picks the read/write unit for one stream. A positive override
// always wins; an unknown (zero) size gets the smallest bracket.
func ChunkSize(resourceSize, override int64) int64 {
	if override > 0 {
		return override
	}
	switch {
	case resourceSize < sizeThresholdSmall:
		return chunkSizeSmall
	case resourceSize < sizeThresholdMedium:
		return chunkSizeMedium
	case resourceSize < sizeThresholdLarge:
		return chunkSizeLarge
	default:
		return chunkSizeXLarge
	}
}
