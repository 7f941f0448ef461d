package secrets

import "github.com/Strob0t/ledgersync/internal/config"

// ConfigLoader reads the secrets from the configuration hierarchy at path,
// the same way the process configuration was loaded.
func ConfigLoader(path string) Loader {
	return func() (map[string]string, error) {
		cfg, err := config.LoadFrom(path)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			WebhookSecret: cfg.Webhook.GitHubSecret,
			APIToken:      cfg.Server.APIToken,
		}, nil
	}
}
