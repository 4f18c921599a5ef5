package database

import (
	"net/url"
	"testing"

	"github.com/ashwalker/streammux/internal/config"
)

func TestConnString(t *testing.T) {
	cfg := config.DBConfig{
		Host:     "db.internal",
		Port:     5433,
		Name:     "messages",
		User:     "archiver",
		Password: "p@ss:word/1",
		SSLMode:  "require",
	}

	u, err := url.Parse(connString(cfg))
	if err != nil {
		t.Fatalf("connString produced an unparseable URL: %v", err)
	}

	if u.Scheme != "postgres" {
		t.Errorf("scheme = %q, want postgres", u.Scheme)
	}
	if u.Host != "db.internal:5433" {
		t.Errorf("host = %q, want db.internal:5433", u.Host)
	}
	if u.Path != "/messages" {
		t.Errorf("path = %q, want /messages", u.Path)
	}
	if u.User.Username() != "archiver" {
		t.Errorf("user = %q, want archiver", u.User.Username())
	}
	if pw, _ := u.User.Password(); pw != "p@ss:word/1" {
		t.Errorf("password = %q, reserved characters must survive the round trip", pw)
	}
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Errorf("sslmode = %q, want require", got)
	}
}

func TestConnStringDefaultSSLMode(t *testing.T) {
	cfg := config.DBConfig{
		Host: "localhost",
		Port: 5432,
		Name: "messages",
		User: "archiver",
	}

	u, err := url.Parse(connString(cfg))
	if err != nil {
		t.Fatalf("connString produced an unparseable URL: %v", err)
	}
	if got := u.Query().Get("sslmode"); got != "prefer" {
		t.Errorf("sslmode = %q, want prefer", got)
	}
}
