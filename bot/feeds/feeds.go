// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package feeds polls RSS feeds and sends links to new items to subscribers.
package feeds // import "mellium.im/keelsbot/bot/feeds"

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"

	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/muc"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
	"mellium.im/keelsbot/storage"
)

// Name is the name of the plugin.
const Name = "feeds"

// Only this many of the newest known items are remembered for each feed.
const keep = 100

var migrations = storage.Migrations{
	{
		Version: 1,
		Up: `
CREATE TABLE feed_items (
	feed  TEXT NOT NULL,
	item  TEXT NOT NULL,
	at    INTEGER NOT NULL,
	PRIMARY KEY (feed, item)
);`,
		Down: `DROP TABLE feed_items;`,
	},
}

const (
	selectItems = `SELECT item FROM feed_items WHERE feed=?`
	insertItem  = `INSERT OR REPLACE INTO feed_items (feed, item, at) VALUES (?, ?, ?)`
	pruneItems  = `
DELETE FROM feed_items WHERE feed=? AND item NOT IN (
	SELECT item FROM feed_items WHERE feed=? ORDER BY at DESC LIMIT ?
)`
)

// Subscriber is an address that gets the items of a feed.
type Subscriber struct {
	JID string `toml:"jid"`

	// Type is the message type, "groupchat" unless set. Rooms only get items
	// while the bot is in them.
	Type string `toml:"type"`
}

// Feed is the configuration of a single feed.
type Feed struct {
	URL         string        `toml:"url"`
	Refresh     time.Duration `toml:"refresh"`
	Subscribers []Subscriber  `toml:"subscriber"`
}

// Config is the configuration block of the plugin.
type Config struct {
	Timeout time.Duration `toml:"timeout"`
	Feeds   []Feed        `toml:"feed"`
}

// DefaultConfig is the configuration used for options that are not set.
var DefaultConfig = Config{
	Timeout: 10 * time.Second,
}

// DefaultRefresh is the polling interval of feeds that do not set one.
const DefaultRefresh = time.Hour

// Item is an entry of a feed.
type Item struct {
	Title string `xml:"title"`
	Link  string `xml:"link"`
}

// Channel is a parsed RSS feed.
type Channel struct {
	Title string `xml:"title"`
	Link  string `xml:"link"`
	Items []Item `xml:"item"`
}

// Parse reads an RSS document.
// Titles and links are HTML unescaped once more, as most feeds escape twice.
func Parse(r io.Reader) (Channel, error) {
	var doc struct {
		XMLName xml.Name `xml:"rss"`
		Channel Channel  `xml:"channel"`
	}
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	if err := d.Decode(&doc); err != nil {
		return Channel{}, fmt.Errorf("feeds: error parsing feed: %w", err)
	}
	c := doc.Channel
	c.Title = unescape(c.Title)
	c.Link = unescape(c.Link)
	for i, item := range c.Items {
		c.Items[i] = Item{Title: unescape(item.Title), Link: unescape(item.Link)}
	}
	return c, nil
}

func unescape(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}

// Feeds is the plugin.
type Feeds struct {
	h      plugin.Host
	db     storage.Store
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Factory returns the plugin factory.
func Factory(db storage.Store) plugin.Factory {
	return plugin.Factory{
		Name:     Name,
		Requires: []string{muc.Name},
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			c := DefaultConfig
			if err := cfg.Decode(&c); err != nil {
				return nil, err
			}
			return New(context.Background(), h, db, c, nil)
		},
	}
}

// New migrates the table of the plugin and starts polling the feeds whenever
// a session starts.
// A nil client uses http.DefaultClient.
func New(ctx context.Context, h plugin.Host, db storage.Store, cfg Config, client *http.Client) (*Feeds, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	for i, f := range cfg.Feeds {
		if f.URL == "" {
			return nil, errors.New("feeds: feed without an url")
		}
		if f.Refresh <= 0 {
			cfg.Feeds[i].Refresh = DefaultRefresh
		}
		for _, s := range f.Subscribers {
			if _, err := jid.Parse(s.JID); err != nil {
				return nil, fmt.Errorf("feeds: bad subscriber of %s: %w", f.URL, err)
			}
		}
	}
	if err := db.Migrate(ctx, Name, migrations); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	f := &Feeds{h: h, db: db, cfg: cfg, client: client, now: time.Now}
	h.On(event.SessionStart, func(any) { f.start() })
	h.On(event.Disconnected, func(any) { f.stop() })
	return f, nil
}

// Shutdown stops polling.
func (f *Feeds) Shutdown() error {
	f.stop()
	return nil
}

func (f *Feeds) start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	for _, feed := range f.cfg.Feeds {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.loop(ctx, feed)
		}()
	}
}

func (f *Feeds) stop() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Feeds) loop(ctx context.Context, feed Feed) {
	f.h.Debug().Printf("feeds: polling %s every %s", feed.URL, feed.Refresh)
	// Spread the polls of feeds with the same refresh rate.
	refresh := feed.Refresh + rand.N(feed.Refresh/100+1)
	t := time.NewTicker(refresh)
	defer t.Stop()
	for {
		n, err := f.Poll(ctx, feed)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			f.h.Logger().Printf("feeds: error polling %s: %v", feed.URL, err)
		case n > 0:
			f.h.Debug().Printf("feeds: %d new items in %s", n, feed.URL)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Poll fetches feed once, sends its new items to the subscribers and returns
// how many there were.
func (f *Feeds) Poll(ctx context.Context, feed Feed) (int, error) {
	c, err := f.fetch(ctx, feed.URL)
	if err != nil {
		return 0, err
	}
	known, err := f.known(ctx, feed.URL)
	if err != nil {
		return 0, err
	}
	var n int
	sent := make(map[string]bool)
	for _, item := range c.Items {
		if known[item.Link] {
			continue
		}
		known[item.Link] = true
		// Some feeds list the same entry under several links.
		if !sent[item.Title] {
			sent[item.Title] = true
			n++
			f.send(feed.Subscribers, c, item)
		}
		_, err = f.db.ExecContext(ctx, insertItem, feed.URL, item.Link, f.now().UnixNano())
		if err != nil {
			return n, err
		}
	}
	_, err = f.db.ExecContext(ctx, pruneItems, feed.URL, feed.URL, keep)
	return n, err
}

func (f *Feeds) fetch(ctx context.Context, url string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Channel{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Channel{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Channel{}, fmt.Errorf("feeds: got status %q", resp.Status)
	}
	return Parse(resp.Body)
}

func (f *Feeds) known(ctx context.Context, url string) (map[string]bool, error) {
	rows, err := f.db.QueryContext(ctx, selectItems, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	known := make(map[string]bool)
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, err
		}
		known[item] = true
	}
	return known, rows.Err()
}

func (f *Feeds) send(subs []Subscriber, c Channel, item Item) {
	text := c.Title + ": " + item.Title + "\n" + item.Link
	var rooms *muc.MUC
	if p, ok := f.h.Peer(muc.Name); ok {
		rooms = p.(*muc.MUC)
	}
	for _, s := range subs {
		to := jid.MustParse(s.JID)
		typ := stanza.MessageType(s.Type)
		if typ == "" {
			typ = stanza.GroupChatMessage
		}
		if typ == stanza.GroupChatMessage && (rooms == nil || !rooms.Joined(to.Bare())) {
			continue
		}
		if err := f.h.Send(stanza.NewMessage(to, text, "", typ).Element()); err != nil {
			f.h.Logger().Printf("feeds: error sending to %s: %v", to, err)
		}
	}
}
