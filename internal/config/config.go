// 包 config：集中读取运行配置；先加载 .env 文件，再由环境变量解析为强类型结构
package config

import (
	"net"
	"net/url"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config：服务运行配置
// 约束：字段默认值与历史部署保持一致；数据集默认读取工作目录下的 GeoLite2-City.mmdb
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	GeoIPPath         string `env:"GEOIP_PATH" envDefault:"GeoLite2-City.mmdb"`
	GeoIPSharedHandle bool   `env:"GEOIP_SHARED_HANDLE" envDefault:"false"`

	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	StatsEnable bool     `env:"STATS_ENABLE" envDefault:"false"`
	Postgres    Postgres `envPrefix:"PG_"`

	TLSEnable   bool   `env:"TLS_ENABLE" envDefault:"false"`
	TLSCertPath string `env:"TLS_CERT_PATH"`
	TLSKeyPath  string `env:"TLS_KEY_PATH"`
}

// Postgres：统计库连接参数
type Postgres struct {
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         string `env:"PORT" envDefault:"5432"`
	User         string `env:"USER" envDefault:"postgres"`
	Password     string `env:"PASSWORD"`
	DB           string `env:"DB" envDefault:"tzapi"`
	SSLMode      string `env:"SSLMODE" envDefault:"disable"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS" envDefault:"25"`
}

// DSN：拼接 lib/pq 连接串；用户名与密码按 URL userinfo 规则转义
func (p Postgres) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(p.User),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.DB,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String()
}

// Load：读取 .env 与 data/env/.env（缺失忽略）后解析环境变量
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	return parse(env.Options{})
}

// FromMap：从给定键值解析配置，不读取进程环境与 .env 文件
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	if c.TLSCertPath == "" {
		c.TLSCertPath = filepath.Join("data", "certs", "server.crt")
	}
	if c.TLSKeyPath == "" {
		c.TLSKeyPath = filepath.Join("data", "certs", "server.key")
	}
	return c, nil
}
