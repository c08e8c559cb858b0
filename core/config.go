package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DBConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ServerConfig struct {
		Host               string
		Port               int
		JWTExpirationDelta time.Duration
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	CurriculumConfig struct {
		BatchSize      int
		PageSize       int
		LeaseTTL       time.Duration
		ExamBoards     []string
		Qualifications []string
	}

	Config struct {
		Env              string
		Debug            bool
		TestMode         bool
		AppName          string
		Build            string
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail string
		OperatorEmails   []string
		WorkDir          string

		Server          ServerConfig
		Database        DBConfig
		StagingDatabase DBConfig
		Redis           RedisConfig
		Curriculum      CurriculumConfig
	}
)

func (db DBConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DefaultFromAddress parses DefaultFromEmail, falling back to a bare address with the app name.
func (c *Config) DefaultFromAddress() mail.Address {
	if addr, err := mail.ParseAddress(c.DefaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
}

// OperatorAddresses returns the parsable entries of OperatorEmails.
func (c *Config) OperatorAddresses() []mail.Address {
	addrs := make([]mail.Address, 0, len(c.OperatorEmails))
	for _, e := range c.OperatorEmails {
		if addr, err := mail.ParseAddress(CleanString(e)); err == nil {
			addrs = append(addrs, *addr)
		}
	}
	return addrs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", true)
	v.SetDefault("app_name", "Studyboard")
	v.SetDefault("build", "dev")
	v.SetDefault("secret_key", "xk2-9q!m7@dv$h(t5o=w_3^z8#ljr1e+bcn0&pa)yfug6ais4")
	v.SetDefault("default_from_email", "Studyboard <noreply@localhost>")
	v.SetDefault("operator_emails", []string{})

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.jwt_expiration_delta", 4*time.Hour)

	for _, prefix := range []string{"database", "staging_database"} {
		v.SetDefault(prefix+".engine", "postgres")
		v.SetDefault(prefix+".host", "localhost")
		v.SetDefault(prefix+".port", 5432)
		v.SetDefault(prefix+".user", "studyboard")
		v.SetDefault(prefix+".password", "studyboard")
		v.SetDefault(prefix+".admin_user", "postgres")
		v.SetDefault(prefix+".admin_password", "postgres")
		v.SetDefault(prefix+".disable_tls", true)
	}
	v.SetDefault("database.name", "studyboard")
	v.SetDefault("staging_database.name", "studyboard_staging")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("curriculum.batch_size", 100)
	v.SetDefault("curriculum.page_size", 1000)
	v.SetDefault("curriculum.lease_ttl", 15*time.Minute)
	v.SetDefault("curriculum.exam_boards", []string{"AQA", "EDEXCEL", "OCR", "WJEC", "CCEA", "CIE", "SQA", "IB"})
	v.SetDefault("curriculum.qualifications", []string{
		"GCSE", "IGCSE", "AS_LEVEL", "A_LEVEL", "NATIONAL_5", "HIGHER", "ADVANCED_HIGHER", "IB_DIPLOMA",
	})
}

// NewConfig loads the configuration for the current ENV (DEV by default; TEST, QA, PROD).
// Values come from defaults, then config/.env.<env> if it exists, then <ENV>_* environment variables.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetDefault("test_mode", env == "TEST")
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("test_mode"),
		AppName:          v.GetString("app_name"),
		Build:            v.GetString("build"),
		SecretKey:        v.GetString("secret_key"),
		RollbarToken:     v.GetString("rollbar_token"),
		SendgridApiKey:   v.GetString("sendgrid_api_key"),
		DefaultFromEmail: v.GetString("default_from_email"),
		OperatorEmails:   splitList(v.GetStringSlice("operator_emails")),
		WorkDir:          wd,
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Port:               v.GetInt("server.port"),
			JWTExpirationDelta: v.GetDuration("server.jwt_expiration_delta"),
		},
		Database:        dbConfig(v, "database"),
		StagingDatabase: dbConfig(v, "staging_database"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Curriculum: CurriculumConfig{
			BatchSize:      v.GetInt("curriculum.batch_size"),
			PageSize:       v.GetInt("curriculum.page_size"),
			LeaseTTL:       v.GetDuration("curriculum.lease_ttl"),
			ExamBoards:     splitList(v.GetStringSlice("curriculum.exam_boards")),
			Qualifications: splitList(v.GetStringSlice("curriculum.qualifications")),
		},
	}
}

func dbConfig(v *viper.Viper, prefix string) DBConfig {
	return DBConfig{
		Engine:        v.GetString(prefix + ".engine"),
		Host:          v.GetString(prefix + ".host"),
		Port:          v.GetInt(prefix + ".port"),
		Name:          v.GetString(prefix + ".name"),
		User:          v.GetString(prefix + ".user"),
		Password:      v.GetString(prefix + ".password"),
		AdminUser:     v.GetString(prefix + ".admin_user"),
		AdminPassword: v.GetString(prefix + ".admin_password"),
		DisableTLS:    v.GetBool(prefix + ".disable_tls"),
	}
}

// splitList accepts both real lists and a single comma separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = CleanString(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) String() string {
	return fmt.Sprintf("%s[%s] env=%s debug=%t", c.AppName, c.Build, c.Env, c.Debug)
}
