package anthropic

// CachedSystem builds a single system block with an ephemeral cache
// breakpoint. The synthesis instructions are identical across submissions,
// so repeated calls inside the TTL read them from the prompt cache.
func CachedSystem(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
