package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Roles recognized by the auth layer. Empreendedores open and answer their own
// processes; licenciadores run the review; admins can do both plus manage keys.
const (
	RoleEmpreendedor = "empreendedor"
	RoleLicenciador  = "licenciador"
	RoleAdmin        = "admin"
)

// Config models rota.yml.
type Config struct {
	Agency struct {
		Name string `yaml:"name"`
	} `yaml:"agency"`
	SLA struct {
		AgencyDays    int `yaml:"agency_days"`
		ApplicantDays int `yaml:"applicant_days"`
		WarnDays      int `yaml:"warn_days"`
	} `yaml:"sla"`
	Catalog struct {
		URL string `yaml:"url"`
	} `yaml:"catalog"`
	Auth struct {
		JWTSecret string          `yaml:"jwt_secret"`
		APIKeys   []APIKey        `yaml:"api_keys"`
		Users     map[string]User `yaml:"users"`
	} `yaml:"auth"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

type APIKey struct {
	Key     string `yaml:"key"`
	ActorID string `yaml:"actor_id"`
}

type User struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

func validRole(role string) bool {
	switch role {
	case RoleEmpreendedor, RoleLicenciador, RoleAdmin:
		return true
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.SLA.AgencyDays <= 0 {
		return fmt.Errorf("config.sla.agency_days must be positive")
	}
	if c.SLA.ApplicantDays <= 0 {
		return fmt.Errorf("config.sla.applicant_days must be positive")
	}
	if c.SLA.WarnDays < 0 {
		return fmt.Errorf("config.sla.warn_days must not be negative")
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("config.auth.api_keys[%d] has empty key", i)
		}
		if k.ActorID == "" {
			return fmt.Errorf("config.auth.api_keys[%d] has empty actor_id", i)
		}
	}
	for id, u := range c.Auth.Users {
		if id == "" {
			return fmt.Errorf("config.auth.users contains empty user id")
		}
		if !validRole(u.Role) {
			return fmt.Errorf("user %s has unknown role %q", id, u.Role)
		}
	}
	return nil
}

// Role returns the configured role for an actor, defaulting to empreendedor
// for actors the config does not know.
func (c *Config) Role(actorID string) string {
	if u, ok := c.Auth.Users[actorID]; ok {
		return u.Role
	}
	return RoleEmpreendedor
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rota.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration: the statutory 30/15 day clocks,
// the 5 day warning window, no remote catalog and no configured users.
func Default() *Config {
	var cfg Config
	cfg.Agency.Name = "Secretaria Municipal de Meio Ambiente"
	cfg.SLA.AgencyDays = 30
	cfg.SLA.ApplicantDays = 15
	cfg.SLA.WarnDays = 5
	cfg.Server.Addr = ":8787"
	return &cfg
}

// GenerateDefault returns default config YAML for rota init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `agency:
  name: Secretaria Municipal de Meio Ambiente

sla:
  agency_days: 30
  applicant_days: 15
  warn_days: 5

catalog:
  # url: https://registry.example.gov.br/activities

auth:
  # jwt_secret: change-me
  # api_keys:
  #   - key: dev-key
  #     actor_id: gestor-01
  users:
    gestor-01:
      name: Henrique Meireles
      role: licenciador

server:
  addr: ":8787"
`
