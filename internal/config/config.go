package config

// RouteType categorizes an endpoint descriptor by how its handler is
// synthesized.
type RouteType string

const (
	RouteDatabase  RouteType = "database"
	RouteProxy     RouteType = "proxy"
	RoutePlugin    RouteType = "plugin"
	RouteStatic    RouteType = "static"
	RouteDef       RouteType = "def"
	RouteFileUpload RouteType = "fileUpload"
	RouteDynamic   RouteType = "dynamic"
)

// AuthMode names how a route authenticates inbound requests.
type AuthMode string

const (
	AuthNone     AuthMode = "none"
	AuthToken    AuthMode = "token"
	AuthBasic    AuthMode = "basic"
	AuthUsernamePassword AuthMode = "username_password"
)

// Relationship describes a join to another table for a database route.
type Relationship struct {
	RelatedTable string   `json:"relatedTable" yaml:"relatedTable"`
	ForeignKey   string   `json:"foreignKey" yaml:"foreignKey"`
	RelatedKey   string   `json:"relatedKey" yaml:"relatedKey"`
	JoinType     string   `json:"joinType" yaml:"joinType"` // inner, left, right
	Fields       []string `json:"fields" yaml:"fields"`
}

// ValidationRule describes the shape expected of a single field on write.
type ValidationRule struct {
	Field     string `json:"field" yaml:"field"`
	Type      string `json:"type" yaml:"type"` // string, number, boolean, array, object
	Required  bool   `json:"required" yaml:"required"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Enum      []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// RateLimit holds the per-route sliding-window caps.
type RateLimit struct {
	PerMinute int `json:"perMinute,omitempty" yaml:"perMinute,omitempty"`
	PerHour   int `json:"perHour,omitempty" yaml:"perHour,omitempty"`
}

// Cache holds per-route cache settings. TTL of 0 means caching is off.
type Cache struct {
	TTLSeconds int `json:"ttlSeconds" yaml:"ttlSeconds"`
}

// EndpointDescriptor is the unit of configuration the gateway operates on:
// one descriptor synthesizes one route (or, for routeType "def", one
// schema-only definition used to drive other database routes).
type EndpointDescriptor struct {
	RouteType RouteType `json:"routeType" yaml:"routeType"`
	Route     string    `json:"route,omitempty" yaml:"route,omitempty"`

	DBType       string `json:"dbType,omitempty" yaml:"dbType,omitempty"`
	DBConnection string `json:"dbConnection,omitempty" yaml:"dbConnection,omitempty"`
	DBTable      string `json:"dbTable,omitempty" yaml:"dbTable,omitempty"`

	Keys        []string `json:"keys,omitempty" yaml:"keys,omitempty"`
	AllowRead   []string `json:"allowRead,omitempty" yaml:"allowRead,omitempty"`
	AllowWrite  []string `json:"allowWrite,omitempty" yaml:"allowWrite,omitempty"`
	AllowMethods []string `json:"allowMethods,omitempty" yaml:"allowMethods,omitempty"`

	ACL  []string `json:"acl,omitempty" yaml:"acl,omitempty"`
	Auth AuthMode `json:"auth,omitempty" yaml:"auth,omitempty"`

	Cache     Cache     `json:"cache,omitempty" yaml:"cache,omitempty"`
	RateLimit RateLimit `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`

	ColumnDefinitions map[string]string `json:"columnDefinitions,omitempty" yaml:"columnDefinitions,omitempty"`
	Relationships     []Relationship    `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	ValidationRules   []ValidationRule  `json:"validationRules,omitempty" yaml:"validationRules,omitempty"`

	BusinessLogic string `json:"businessLogic,omitempty" yaml:"businessLogic,omitempty"` // plugin name
	BusinessRules string `json:"businessRules,omitempty" yaml:"businessRules,omitempty"` // DSL file handle

	OpenGraphMapping map[string]string `json:"openGraphMapping,omitempty" yaml:"openGraphMapping,omitempty"`
	MLModel          []string          `json:"mlmodel,omitempty" yaml:"mlmodel,omitempty"`

	// StaticPath is the filesystem root served for routeType "static".
	StaticPath string `json:"staticPath,omitempty" yaml:"staticPath,omitempty"`

	// UpstreamURL is the backend base URL for routeType "proxy".
	UpstreamURL string `json:"upstreamURL,omitempty" yaml:"upstreamURL,omitempty"`

	// UploadDir is the destination directory for routeType "fileUpload".
	UploadDir string `json:"uploadDir,omitempty" yaml:"uploadDir,omitempty"`
	MaxUploadBytes int64 `json:"maxUploadBytes,omitempty" yaml:"maxUploadBytes,omitempty"`
}

// ServerConfig holds the HTTP listener settings for the gateway's main port.
type ServerConfig struct {
	Port         int           `json:"port" yaml:"port"`
	ReadTimeoutSeconds  int    `json:"readTimeoutSeconds" yaml:"readTimeoutSeconds"`
	WriteTimeoutSeconds int    `json:"writeTimeoutSeconds" yaml:"writeTimeoutSeconds"`
	IdleTimeoutSeconds  int    `json:"idleTimeoutSeconds" yaml:"idleTimeoutSeconds"`
	ShutdownTimeoutSeconds int `json:"shutdownTimeoutSeconds" yaml:"shutdownTimeoutSeconds"`
}

// AdminConfig holds the TCP control-plane listener settings.
type AdminConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

// RedisConfig is shared by the cache, rate limiter, and event logger.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// AuthConfig holds JWT signing settings used by the token and basic auth
// modes (username_password checks credentials and issues no token).
type AuthConfig struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"` // HS256, RS256
	Secret    string `json:"secret,omitempty" yaml:"secret,omitempty"`
	PublicKey string `json:"publicKey,omitempty" yaml:"publicKey,omitempty"`
	PrivateKey string `json:"privateKey,omitempty" yaml:"privateKey,omitempty"`
	Issuer    string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	TTLSeconds int   `json:"ttlSeconds" yaml:"ttlSeconds"`
}

// PluginConfig configures the plugin manager's search path.
type PluginConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// RulesConfig configures where a descriptor's businessRules file handle
// is resolved from when it isn't an absolute path.
type RulesConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// EventLogConfig configures the async event-logger queue.
type EventLogConfig struct {
	QueueKey      string `json:"queueKey" yaml:"queueKey"`
	FlushInterval int    `json:"flushIntervalMillis" yaml:"flushIntervalMillis"`
	BatchSize     int    `json:"batchSize" yaml:"batchSize"`
	MaxQueueLen   int64  `json:"maxQueueLen" yaml:"maxQueueLen"`
}

// LoggingConfig controls the zap/lumberjack logger.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Output     string `json:"output" yaml:"output"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Config is the top-level gateway configuration: process-wide settings plus
// the ordered set of endpoint descriptors.
type Config struct {
	Server  ServerConfig   `json:"server" yaml:"server"`
	Admin   AdminConfig    `json:"admin" yaml:"admin"`
	Redis   RedisConfig    `json:"redis" yaml:"redis"`
	Auth    AuthConfig     `json:"auth" yaml:"auth"`
	Plugins PluginConfig   `json:"plugins" yaml:"plugins"`
	Rules   RulesConfig    `json:"rules" yaml:"rules"`
	EventLog EventLogConfig `json:"eventLog" yaml:"eventLog"`
	Logging LoggingConfig  `json:"logging" yaml:"logging"`

	Endpoints []EndpointDescriptor `json:"endpoints" yaml:"endpoints"`
}

// DefaultConfig returns a configuration with sensible defaults, mirroring
// the shape of every gateway deployment before a config file is applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   8080,
			ReadTimeoutSeconds:     30,
			WriteTimeoutSeconds:    30,
			IdleTimeoutSeconds:     60,
			ShutdownTimeoutSeconds: 15,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":9090",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			Algorithm:  "HS256",
			TTLSeconds: 3600,
		},
		Plugins: PluginConfig{
			Dir: "./plugins",
		},
		Rules: RulesConfig{
			Dir: "./rules",
		},
		EventLog: EventLogConfig{
			QueueKey:      "gw:eventlog",
			FlushInterval: 1000,
			BatchSize:     100,
			MaxQueueLen:   100000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}
