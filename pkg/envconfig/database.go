package envconfig

import (
	"github.com/spf13/viper"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
)

// LoadDatabaseConfig loads database configuration. DATABASE_URL wins over the
// individual DB_* variables.
func LoadDatabaseConfig(v *viper.Viper) database.Config {
	config := database.DefaultConfig()

	config.URL = v.GetString("database_url")
	if host := v.GetString("db_host"); host != "" {
		config.Host = host
	}
	if port := v.GetInt("db_port"); port > 0 {
		config.Port = port
	}
	if user := v.GetString("db_user"); user != "" {
		config.User = user
	}
	config.Password = v.GetString("db_password")
	if name := v.GetString("db_name"); name != "" {
		config.DBName = name
	}
	if sslmode := v.GetString("db_ssl_mode"); sslmode != "" {
		config.SSLMode = sslmode
	}

	if n := v.GetInt("db_max_open_conns"); n > 0 {
		config.MaxOpenConns = n
	}
	if n := v.GetInt("db_max_idle_conns"); n > 0 {
		config.MaxIdleConns = n
	}
	if d := v.GetDuration("db_conn_max_lifetime"); d > 0 {
		config.ConnMaxLifetime = d
	}
	if d := v.GetDuration("db_conn_max_idle_time"); d > 0 {
		config.ConnMaxIdleTime = d
	}

	return config
}
