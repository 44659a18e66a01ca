/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package zlcfg loads the two zoplog INI configuration files: the system
// settings in /etc/zoplog/zoplog.conf and the database credentials in
// /etc/zoplog/database.conf.  Both loaders fall back to documented defaults
// when a file is missing or unreadable; the database loader additionally
// honors the ZOPLOG_DB_* environment overrides.
package zlcfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gravwell/gcfg"
	"go.uber.org/zap"
)

const (
	// SettingsPath is the default location of the system settings file.
	SettingsPath = "/etc/zoplog/zoplog.conf"

	// DatabasePath is the default location of the DB credentials file.
	DatabasePath = "/etc/zoplog/database.conf"

	// ScriptsDir is where the firewall helper scripts are installed.
	ScriptsDir = "/opt/zoplog/zoplog/scripts"
)

// Settings is the [monitoring]/[firewall]/[system] configuration consumed by
// the daemons.
type Settings struct {
	MonitorInterface  string
	CaptureMode       string
	LogLevel          string
	FirewallInterface string
	BlockMode         string
	LogBlocked        bool
	UpdateInterval    int
	MaxLogEntries     int
}

// DBConfig holds the MariaDB connection parameters.
type DBConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     int
}

type settingsFile struct {
	Monitoring struct {
		Interface    string
		Capture_Mode string
		Log_Level    string
	}
	Firewall struct {
		Apply_To_Interface string
		Block_Mode         string
		Log_Blocked        string
	}
	System struct {
		Update_Interval int
		Max_Log_Entries int
	}
}

type databaseFile struct {
	Database struct {
		Host     string
		User     string
		Password string
		Name     string
		Port     int
	}
}

func defaultSettings() *Settings {
	return &Settings{
		MonitorInterface:  "eth0",
		CaptureMode:       "promiscuous",
		LogLevel:          "INFO",
		FirewallInterface: "eth0",
		BlockMode:         "immediate",
		LogBlocked:        true,
		UpdateInterval:    30,
		MaxLogEntries:     10000,
	}
}

// LoadSettings reads the system settings from path.  Missing or malformed
// files are not fatal; the documented defaults are returned with a warning.
func LoadSettings(path string, slog *zap.SugaredLogger) *Settings {
	s := defaultSettings()

	var f settingsFile
	// gcfg rejects '_' in variable names, but the settings keys are written
	// snake_case; rewrite them to the '-' spelling gcfg matches against the
	// '_' in the field names.
	raw, err := os.ReadFile(path)
	if err == nil {
		lines := strings.Split(string(raw), "\n")
		for i, line := range lines {
			if eq := strings.IndexByte(line, '='); eq > 0 {
				lines[i] = strings.ReplaceAll(line[:eq], "_", "-") + line[eq:]
			}
		}
		err = gcfg.ReadStringInto(&f, strings.Join(lines, "\n"))
	}
	if err != nil {
		if slog != nil {
			slog.Warnf("using default settings: %s: %v", path, err)
		}
		return s
	}

	if f.Monitoring.Interface != "" {
		s.MonitorInterface = f.Monitoring.Interface
	}
	if f.Monitoring.Capture_Mode != "" {
		s.CaptureMode = f.Monitoring.Capture_Mode
	}
	if f.Monitoring.Log_Level != "" {
		s.LogLevel = f.Monitoring.Log_Level
	}
	if f.Firewall.Apply_To_Interface != "" {
		s.FirewallInterface = f.Firewall.Apply_To_Interface
	}
	if f.Firewall.Block_Mode != "" {
		s.BlockMode = f.Firewall.Block_Mode
	}
	if f.Firewall.Log_Blocked != "" {
		if b, err := strconv.ParseBool(f.Firewall.Log_Blocked); err == nil {
			s.LogBlocked = b
		}
	}
	if f.System.Update_Interval > 0 {
		s.UpdateInterval = f.System.Update_Interval
	}
	if f.System.Max_Log_Entries > 0 {
		s.MaxLogEntries = f.System.Max_Log_Entries
	}

	return s
}

func envOverride(val *string, key string) {
	if v := os.Getenv(key); v != "" {
		*val = v
	}
}

// LoadDBConfig reads the database credentials from path and applies the
// ZOPLOG_DB_{HOST,USER,PASS,NAME,PORT} environment overrides on top.
func LoadDBConfig(path string, slog *zap.SugaredLogger) *DBConfig {
	c := &DBConfig{
		Host: "localhost",
		User: "zoplog_db",
		Name: "logs_db",
		Port: 3306,
	}

	var f databaseFile
	if err := gcfg.ReadFileInto(&f, path); err != nil {
		if slog != nil {
			slog.Warnf("using default database config: %s: %v", path, err)
		}
	} else {
		if f.Database.Host != "" {
			c.Host = f.Database.Host
		}
		if f.Database.User != "" {
			c.User = f.Database.User
		}
		if f.Database.Password != "" {
			c.Password = f.Database.Password
		}
		if f.Database.Name != "" {
			c.Name = f.Database.Name
		}
		if f.Database.Port > 0 {
			c.Port = f.Database.Port
		}
	}

	envOverride(&c.Host, "ZOPLOG_DB_HOST")
	envOverride(&c.User, "ZOPLOG_DB_USER")
	envOverride(&c.Password, "ZOPLOG_DB_PASS")
	envOverride(&c.Name, "ZOPLOG_DB_NAME")
	if v := os.Getenv("ZOPLOG_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}

	return c
}

// DSN renders the go-sql-driver connection string for this configuration.
func (c *DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Name)
}
