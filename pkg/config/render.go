package config

import (
	"reflect"

	"gopkg.in/yaml.v3"
)

// RedactedValue replaces secret values in rendered configuration.
const RedactedValue = "***"

// String returns the full configuration as YAML
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}

// Redacted returns a copy of the configuration with every string value that came from the
// secrets file masked. Pass the secrets Config returned by LoadWithSecrets().
func (c *Config) Redacted(secrets *Config) *Config {
	clone := *c
	if secrets == nil {
		return &clone
	}
	maskStruct(reflect.ValueOf(&clone).Elem(), reflect.ValueOf(secrets).Elem())
	return &clone
}

func maskStruct(v, mask reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		switch field.Kind() {
		case reflect.Struct:
			maskStruct(field, mask.Field(i))
		case reflect.String:
			if mask.Field(i).String() != "" {
				field.SetString(RedactedValue)
			}
		}
	}
}
