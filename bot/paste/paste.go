// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package paste uploads code snippets to pastebin.com.
package paste // import "mellium.im/keelsbot/bot/paste"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"

	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

// Name is the name of the plugin.
const Name = "paste"

// ErrRejected is returned when the service refuses a paste.
var ErrRejected = errors.New("paste: request rejected")

// Config is the configuration block of the plugin.
type Config struct {
	URL        string        `toml:"url"`
	Key        string        `toml:"key"`
	Format     string        `toml:"format"`
	Expiration string        `toml:"expiration"`
	Timeout    time.Duration `toml:"timeout"`
}

// DefaultConfig is the configuration used for options that are not set.
var DefaultConfig = Config{
	URL:        "https://pastebin.com/api/api_post.php",
	Format:     "text",
	Expiration: "1D",
	Timeout:    10 * time.Second,
}

var expirations = map[string]bool{"10M": true, "1H": true, "1D": true, "1M": true, "N": true}

// Paste is a snippet to upload.
type Paste struct {
	Code       string
	Author     string
	Format     string
	Expiration string
}

// Paster is the plugin.
type Paster struct {
	h      plugin.Host
	cfg    Config
	client *http.Client
}

// Factory returns the plugin factory.
func Factory(cmds bot.Commands) plugin.Factory {
	return plugin.Factory{
		Name: Name,
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			c := DefaultConfig
			if err := cfg.Decode(&c); err != nil {
				return nil, err
			}
			return New(h, cmds, c, nil), nil
		},
	}
}

// New adds the paste command.
// A nil client uses http.DefaultClient.
func New(h plugin.Host, cmds bot.Commands, cfg Config, client *http.Client) *Paster {
	if cfg.URL == "" {
		cfg.URL = DefaultConfig.URL
	}
	if cfg.Format == "" {
		cfg.Format = DefaultConfig.Format
	}
	if !expirations[strings.ToUpper(cfg.Expiration)] {
		cfg.Expiration = DefaultConfig.Expiration
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	p := &Paster{h: h, cfg: cfg, client: client}
	h.Cleanup(cmds.AddCommand(bot.Command{
		Name:    "paste",
		Summary: "Pastebin",
		Help:    "Uploads code to pastebin.com. The first line takes, in any order, the expiration (10M, 1H, 1D, 1M or N for never), the language and whether to send the link to the room (1) or back to you (0). The code goes on the following lines.",
		Usage:   "paste [10M|1H|1D|1M|N] [lang] [0|1]\ncode",
		Run:     p.paste,
	}))
	return p
}

// Upload posts a paste and returns its address.
func (p *Paster) Upload(ctx context.Context, paste Paste) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	form := url.Values{
		"api_dev_key":           {p.cfg.Key},
		"api_option":            {"paste"},
		"api_paste_code":        {paste.Code},
		"api_paste_name":        {paste.Author},
		"api_paste_format":      {paste.Format},
		"api_paste_expire_date": {paste.Expiration},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	link := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || strings.HasPrefix(link, "Bad API request") {
		return "", fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, link)
	}
	return link, nil
}

func (p *Paster) paste(ctx context.Context, req bot.Request) string {
	pr := req.Printer
	_, code, ok := strings.Cut(req.Message.Body, "\n")
	if !ok || strings.TrimSpace(code) == "" {
		return pr.Sprintf("Invalid input, see help.")
	}

	paste := Paste{
		Code:       code,
		Format:     p.cfg.Format,
		Expiration: strings.ToUpper(p.cfg.Expiration),
		Author:     req.Sender.JID.Localpart(),
	}
	if !req.Sender.Room.IsZero() {
		paste.Author = req.Sender.Nick
	}
	var toRoom bool
	for _, arg := range strings.Fields(req.Args) {
		switch {
		case expirations[strings.ToUpper(arg)]:
			paste.Expiration = strings.ToUpper(arg)
		case arg == "0" || arg == "1":
			toRoom = arg == "1"
		default:
			paste.Format = arg
		}
	}

	link, err := p.Upload(ctx, paste)
	if err != nil {
		p.h.Logger().Printf("paste: error uploading: %v", err)
		return pr.Sprintf("Could not upload the code.")
	}
	if toRoom && !req.Sender.Room.IsZero() && req.Message.Type != stanza.GroupChatMessage {
		text := pr.Sprintf("%s pasted %s", paste.Author, link)
		err = p.h.Send(stanza.NewMessage(req.Sender.Room, text, "", stanza.GroupChatMessage).Element())
		if err == nil {
			return ""
		}
		p.h.Logger().Printf("paste: error sending link to %s: %v", req.Sender.Room, err)
	}
	return link
}

func init() {
	err := bot.Translations(language.Czech, [][2]string{
		{"Pastebin", "Pastebin"},
		{"Uploads code to pastebin.com. The first line takes, in any order, the expiration (10M, 1H, 1D, 1M or N for never), the language and whether to send the link to the room (1) or back to you (0). The code goes on the following lines.", "Odešle kód na pastebin.com. Na prvním řádku bere v libovolném pořadí platnost (10M, 1H, 1D, 1M nebo N = navždy), název jazyka a zda odeslat odkaz přímo do MUCu (1) nebo zpátky odkud přišel požadavek (0). Na dalších řádcích je samotný kód."},
		{"Invalid input, see help.", "Neplatné zadání, mrkni na help."},
		{"Could not upload the code.", "Kód se nepodařilo odeslat."},
		{"%s pasted %s", "%s vložil %s"},
	})
	if err != nil {
		panic(err)
	}
}
