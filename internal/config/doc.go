// Package config handles backend connection settings for mirmod.
//
// # Sources
//
// LoadDefault takes the first source that exists:
//
//  1. MIRANDA_CONFIG_JSON environment variable (inline document)
//  2. ~/config.json
//  3. /etc/miranda/config.json
//
// Load reads a specific file. Files ending in .yaml or .yml are parsed
// with yaml.v3 and .toml with BurntSushi/toml; everything else, like the
// inline variable, is JSON. The port may be a string or a number.
//
//	{
//	  "host": "db.internal",
//	  "port": "3306",
//	  "user": "alice",
//	  "password": "s3cret",
//	  "database": "miranda",
//	  "logging": {"level": "debug", "format": "json"}
//	}
//
// ${VAR_NAME} references are expanded in YAML and TOML files only. JSON
// values are taken literally.
//
// # Layering
//
// A session's settings are layered base < token < overrides:
//
//	base, err := config.LoadDefault()
//	token, err := config.FromToken("pxy.build-bot.s3cret")
//	cfg := base.Merge(token, config.Overrides{Database: &db})
//
// FromToken turns a proxy token "pxy.<user>.<password>" into the
// credential pair ("pxy.<user>", "<password>").
package config
