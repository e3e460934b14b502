// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package paste_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/bot/paste"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/xmpptest"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

type commands map[string]bot.Command

func (c commands) AddCommand(cmd bot.Command) func() {
	c[cmd.Name] = cmd
	return func() { delete(c, cmd.Name) }
}

type service struct {
	mu    sync.Mutex
	reply string
	form  url.Values
}

func (s *service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := r.ParseForm(); err != nil || r.Method != http.MethodPost {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.form = r.PostForm
	w.Write([]byte(s.reply))
}

func load(t *testing.T, srv *service) (*paste.Paster, commands, *xmpptest.Conn) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cmds := make(commands)
	conn := xmpptest.NewConn(jid.MustParse("keels@example.net/bot"))
	reg := plugin.NewRegistry(conn, xmpptest.Logger(t, "paste"), nil)
	err := reg.Add(plugin.Factory{
		Name: paste.Name,
		New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
			return paste.New(h, cmds, paste.Config{URL: ts.URL, Key: "secret"}, ts.Client()), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(paste.Name, plugin.Config{}); err != nil {
		t.Fatalf("error loading plugin: %v", err)
	}
	t.Cleanup(reg.DeregisterAll)
	p, _ := reg.Get(paste.Name)
	return p.(*paste.Paster), cmds, conn
}

var (
	romeo = jid.MustParse("romeo@montague.lit")
	coven = jid.MustParse("coven@chat.shakespeare.lit")
)

var pasteTests = [...]struct {
	body   string
	sender bot.Sender
	typ    stanza.MessageType
	out    string
	form   map[string]string
	toRoom string
}{
	0: {
		body:   "!paste",
		sender: bot.Sender{JID: romeo},
		out:    "Invalid input, see help.",
	},
	1: {
		body:   "!paste\nfmt.Println(1)",
		sender: bot.Sender{JID: romeo},
		out:    "https://pastebin.com/abc",
		form: map[string]string{
			"api_dev_key":           "secret",
			"api_option":            "paste",
			"api_paste_code":        "fmt.Println(1)",
			"api_paste_name":        "romeo",
			"api_paste_format":      "text",
			"api_paste_expire_date": "1D",
		},
	},
	2: {
		body:   "!paste 1h go 1\nfunc main() {}\n",
		sender: bot.Sender{JID: romeo, Room: coven, Nick: "thirdwitch"},
		typ:    stanza.GroupChatMessage,
		out:    "https://pastebin.com/abc",
		form: map[string]string{
			"api_paste_code":        "func main() {}\n",
			"api_paste_name":        "thirdwitch",
			"api_paste_format":      "go",
			"api_paste_expire_date": "1H",
		},
	},
	3: {
		body:   "!paste N 1\nSELECT 1;",
		sender: bot.Sender{Room: coven, Nick: "thirdwitch"},
		typ:    stanza.ChatMessage,
		toRoom: "thirdwitch pasted https://pastebin.com/abc",
		form: map[string]string{
			"api_paste_name":        "thirdwitch",
			"api_paste_expire_date": "N",
		},
	},
	4: {
		body:   "!paste 0\nSELECT 1;",
		sender: bot.Sender{Room: coven, Nick: "thirdwitch"},
		typ:    stanza.ChatMessage,
		out:    "https://pastebin.com/abc",
	},
}

func TestPaste(t *testing.T) {
	for i, tc := range pasteTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			srv := &service{reply: "https://pastebin.com/abc\n"}
			_, cmds, conn := load(t, srv)
			out := cmds["paste"].Run(context.Background(), bot.Request{
				Args:    args(tc.body),
				Sender:  tc.sender,
				Message: event.Message{Type: tc.typ, Body: tc.body},
				Printer: message.NewPrinter(language.English),
			})
			if out != tc.out {
				t.Errorf("wrong reply: want=%q, got=%q", tc.out, out)
			}
			srv.mu.Lock()
			defer srv.mu.Unlock()
			for k, v := range tc.form {
				if got := srv.form.Get(k); got != v {
					t.Errorf("wrong %s: want=%q, got=%q", k, v, got)
				}
			}
			if tc.toRoom == "" {
				if n := conn.Pending(); n != 0 {
					t.Errorf("unexpected stanzas were sent: %d", n)
				}
				return
			}
			m, err := stanza.DecodeMessage(conn.Sent())
			if err != nil {
				t.Fatalf("error decoding announcement: %v", err)
			}
			if m.To.String() != coven.String() || m.Type != stanza.GroupChatMessage || m.Body != tc.toRoom {
				t.Errorf("wrong announcement: %+v", m)
			}
		})
	}
}

// args returns the arguments on the first line of a command.
func args(body string) string {
	line, _, _ := strings.Cut(body, "\n")
	_, a, _ := strings.Cut(line, " ")
	return a
}

func TestUploadRejected(t *testing.T) {
	srv := &service{reply: "Bad API request, invalid api_dev_key"}
	p, cmds, _ := load(t, srv)
	_, err := p.Upload(context.Background(), paste.Paste{Code: "x"})
	if !errors.Is(err, paste.ErrRejected) {
		t.Errorf("expected the paste to be rejected, got %v", err)
	}
	out := cmds["paste"].Run(context.Background(), bot.Request{
		Args:    "",
		Sender:  bot.Sender{JID: romeo},
		Message: event.Message{Body: "!paste\nx"},
		Printer: message.NewPrinter(language.English),
	})
	if out != "Could not upload the code." {
		t.Errorf("wrong reply: %q", out)
	}
}
