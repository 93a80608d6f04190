package throttle

// Key names the shared counter bucket of one mailer within one deployment.
type Key string

const (
	// FallbackPrefix is used when no configured, cache or application prefix is set.
	FallbackPrefix = "mailthrottle"

	keySegment = "mail-throttle"
)

// BuildKey derives the counter key of a mailer as
// "{prefix}:mail-throttle:{target}". The prefix is the first non-empty of
// configuredPrefix, sharedCachePrefix and appName, else FallbackPrefix.
//
// target is not escaped; mailer names must not contain characters that
// collide with the store's key namespace.
func BuildKey(target, configuredPrefix, sharedCachePrefix, appName string) Key {
	return Key(resolvePrefix(configuredPrefix, sharedCachePrefix, appName) + ":" + keySegment + ":" + target)
}

func resolvePrefix(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return FallbackPrefix
}

// KeyBuilder resolves the prefix once so every key it builds for the life of
// the process uses the same namespace.
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder resolves the prefix with the same priority as BuildKey.
func NewKeyBuilder(configuredPrefix, sharedCachePrefix, appName string) *KeyBuilder {
	return &KeyBuilder{prefix: resolvePrefix(configuredPrefix, sharedCachePrefix, appName)}
}

// Prefix returns the resolved prefix.
func (kb *KeyBuilder) Prefix() string {
	return kb.prefix
}

// Key returns the counter key for target.
func (kb *KeyBuilder) Key(target string) Key {
	return BuildKey(target, kb.prefix, "", "")
}
