package signaling

// Config holds the signaling endpoint settings. Values come from the
// free-form transports settings map and are decoded with configutil.
type Config struct {
	Addr           string   `mapstructure:"addr"`
	STUNURLs       []string `mapstructure:"stun_urls"`
	ChannelLabel   string   `mapstructure:"channel_label"`
	ObservePath    string   `mapstructure:"observe_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":7860"
	}
	// An explicit empty slice means host-only ICE; only nil gets the default.
	if c.STUNURLs == nil {
		c.STUNURLs = []string{"stun:stun.l.google.com:19302"}
	}
	if c.ChannelLabel == "" {
		c.ChannelLabel = "chat"
	}
	if c.ObservePath == "" {
		c.ObservePath = "/ws/observe"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}
