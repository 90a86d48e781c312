// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends e-mail and SMS alerts when an acquisition fails.
package alert // import "github.com/go-lpc/dso/internal/alert"

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	mail "gopkg.in/gomail.v2"
)

// MaxAlerts is the number of alerts sent for a given key.
const MaxAlerts = 5

// Config holds the alert credentials and targets.
type Config struct {
	MailUser    string
	MailPass    string
	MailServer  string
	MailPort    int
	MailTargets []string

	SMSEndPoint string
}

// FromEnv reads the alert configuration from the environment.
func FromEnv() Config {
	var tgts []string
	for _, v := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			tgts = append(tgts, v)
		}
	}
	return Config{
		MailUser:    os.Getenv("MAIL_USERNAME"),
		MailPass:    os.Getenv("MAIL_PASSWORD"),
		MailServer:  os.Getenv("MAIL_SERVER"),
		MailPort:    atoi(os.Getenv("MAIL_PORT")),
		MailTargets: tgts,
		SMSEndPoint: os.Getenv("SMS_ENDPOINT"),
	}
}

func (cfg Config) hasMail() bool {
	return cfg.MailUser != "" && cfg.MailPass != "" &&
		cfg.MailServer != "" && cfg.MailPort != 0 &&
		len(cfg.MailTargets) != 0
}

type sender interface {
	DialAndSend(m ...*mail.Message) error
}

// Alerter sends alerts, at most MaxAlerts per key.
type Alerter struct {
	cfg Config
	msg *log.Logger

	mu     sync.Mutex
	alerts map[string]int

	dial func(cfg Config) sender
	http *http.Client
}

// New creates a new alerter.
func New(cfg Config, msg *log.Logger) *Alerter {
	return &Alerter{
		cfg:    cfg,
		msg:    msg,
		alerts: make(map[string]int),
		dial:   dialMail,
		http:   http.DefaultClient,
	}
}

func dialMail(cfg Config) sender {
	dial := mail.NewDialer(cfg.MailServer, cfg.MailPort, cfg.MailUser, cfg.MailPass)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial
}

// Alert sends an alert about key.
// It reports whether an alert was sent.
func (a *Alerter) Alert(key, subject, body string) bool {
	a.mu.Lock()
	a.alerts[key]++
	n := a.alerts[key]
	a.mu.Unlock()

	a.msg.Printf("alert %q: %s", key, subject)
	if n > MaxAlerts {
		return false
	}

	sent := false
	if a.mail(subject, body) {
		sent = true
	}
	if a.sms(subject) {
		sent = true
	}
	return sent
}

func (a *Alerter) mail(subject, body string) bool {
	if !a.cfg.hasMail() {
		a.msg.Printf("could not send mail alert: missing credentials")
		return false
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", a.cfg.MailUser)
	msg.SetHeader("Bcc", a.cfg.MailTargets...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	err := a.dial(a.cfg).DialAndSend(msg)
	if err != nil {
		a.msg.Printf("could not send mail alert: %+v", err)
		return false
	}
	return true
}

func (a *Alerter) sms(subject string) bool {
	if a.cfg.SMSEndPoint == "" {
		return false
	}

	var msg struct {
		Action string `json:"action"`
		Data   struct {
			All bool   `json:"all"`
			Msg string `json:"message"`
		}
	}
	msg.Action = "send"
	msg.Data.All = true
	msg.Data.Msg = subject

	data := new(bytes.Buffer)
	err := json.NewEncoder(data).Encode(msg)
	if err != nil {
		a.msg.Printf("could not encode sms to json: %+v", err)
		return false
	}
	resp, err := a.http.Post(a.cfg.SMSEndPoint, "application/json", data)
	if err != nil {
		a.msg.Printf("could not POST sms alert: %+v", err)
		return false
	}
	defer resp.Body.Close()

	var status struct {
		Msg string `json:"status"`
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	if err != nil {
		a.msg.Printf("could not decode sms reply: %+v", err)
		return false
	}
	if status.Msg != "success" {
		a.msg.Printf("could not send sms: status=%q", status.Msg)
		return false
	}
	return true
}

// Failure formats the alert body for an acquisition failure.
func Failure(serial string, frames uint64, err error) string {
	return fmt.Sprintf("serial: %q\nframes: %d\nerror: %+v", serial, frames, err)
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
