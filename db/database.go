package db

import (
	"fmt"
	"net"
	"strings"
	"time"

	"LnSPoll/config"

	"github.com/go-sql-driver/mysql"
)

// MySQLDSN builds the driver DSN for the response database.
func MySQLDSN(cfg *config.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// PostgresDSN builds a keyword/value DSN for pgx.
func PostgresDSN(cfg *config.Config) string {
	parts := []string{
		"host=" + quoteDSN(cfg.DBHost),
		"port=" + quoteDSN(cfg.DBPort),
		"user=" + quoteDSN(cfg.DBUser),
		"dbname=" + quoteDSN(cfg.DBName),
		"sslmode=" + quoteDSN(cfg.DBSSLMode),
		"TimeZone=UTC",
	}
	if cfg.DBPassword != "" {
		parts = append(parts, "password="+quoteDSN(cfg.DBPassword))
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a libpq keyword value when it contains spaces or quotes.
func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return fmt.Sprintf("'%s'", v)
}
