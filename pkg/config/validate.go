package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct tags plus the
// constraints tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if _, _, err := cfg.PassivePortRange(); err != nil {
		return err
	}

	for i, acct := range cfg.Blob.Accounts {
		if acct.AccessKey == "" || acct.SecretKey == "" {
			return fmt.Errorf("blob.accounts[%d]: access_key and secret_key are required", i)
		}
	}

	return nil
}
