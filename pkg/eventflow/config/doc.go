/*
Package config loads eventflow runtime settings.

# Settings

Settings describes which transport a process uses and how its consumers
batch and retry. Values are layered, later sources winning:

 1. Defaults()
 2. an optional YAML or JSON file (Settings.Apply)
 3. EVENTFLOW_* environment variables (Settings.ApplyEnv)

Load does all three and validates the result:

	s, err := config.Load(os.Getenv("EVENTFLOW_CONFIG"))
	if err != nil {
	    log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: s.Level()}))

# Maps

Config wraps a map[string]any and provides typed accessors that return the
supplied default when a key is missing or has the wrong type:

	cfg, _ := config.FromFile("eventflow.yaml")
	batch := cfg.Int("batch_size", 64)
	delay := cfg.Duration("retry.delay", time.Second)

Paths may be dotted to reach nested sections. Duration accepts strings
parsed with time.ParseDuration or numbers read as seconds.

Config is safe for concurrent reads as long as the source map is not
modified.
*/
package config
