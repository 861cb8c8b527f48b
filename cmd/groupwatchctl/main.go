package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mvtorres/groupwatch/internal/config"
	"github.com/mvtorres/groupwatch/internal/session"
	"github.com/mvtorres/groupwatch/internal/store"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	groupFlag := flag.String("group", "", "scope to a group id")
	limitFlag := flag.Int("limit", 20, "page size for listings")
	dateFlag := flag.String("date", "", "filter events by date (YYYY-MM-DD)")
	fromFlag := flag.String("from", "", "filter events from date (YYYY-MM-DD)")
	toFlag := flag.String("to", "", "filter events to date (YYYY-MM-DD)")
	memberFlag := flag.String("member", "", "filter events by member id")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		addr = config.LoadOrDefault(session.ConfigPath()).Listen
	}
	c := &client{base: "http://" + addr, json: *jsonFlag}

	var err error
	switch args[0] {
	case "status":
		err = c.cmdStatus()
	case "groups":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: groupwatchctl groups <list|add|remove|members> [arg]")
			os.Exit(1)
		}
		err = c.cmdGroups(args[1], args[2:])
	case "messages":
		err = c.cmdMessages(*groupFlag, *limitFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: groupwatchctl search <query>")
			os.Exit(1)
		}
		err = c.cmdSearch(args[1], *groupFlag, *limitFlag)
	case "stats":
		err = c.cmdStats(*groupFlag)
	case "events":
		err = c.cmdEvents(*groupFlag, *dateFlag, *fromFlag, *toFlag, *memberFlag, *limitFlag)
	case "import":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: groupwatchctl import <path>")
			os.Exit(1)
		}
		err = c.cmdImport(args[1], *groupFlag)
	case "imports":
		err = c.cmdImports()
	case "tail":
		err = c.cmdTail(addr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: groupwatchctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show daemon status")
	fmt.Fprintln(os.Stderr, "  groups list                  List monitored groups")
	fmt.Fprintln(os.Stderr, "  groups add <name>            Monitor a group by name")
	fmt.Fprintln(os.Stderr, "  groups remove <id>           Stop monitoring a group")
	fmt.Fprintln(os.Stderr, "  groups members <id>          List a group's members")
	fmt.Fprintln(os.Stderr, "  messages [--group <id>]      List recent messages")
	fmt.Fprintln(os.Stderr, "  search <query>               Full-text message search")
	fmt.Fprintln(os.Stderr, "  stats [--group <id>]         Aggregate counts and top senders")
	fmt.Fprintln(os.Stderr, "  events [--group --date ...]  List membership events")
	fmt.Fprintln(os.Stderr, "  import <path>                Import a chat-export file")
	fmt.Fprintln(os.Stderr, "  imports                      List recent import jobs")
	fmt.Fprintln(os.Stderr, "  tail                         Stream live envelopes")
}

type client struct {
	base string
	json bool
}

func (c *client) get(path string, out any) error {
	resp, err := http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	return decode(resp, out)
}

func (c *client) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	return decode(resp, out)
}

func (c *client) del(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	return decode(resp, nil)
}

func decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (c *client) cmdStatus() error {
	var st map[string]any
	if err := c.get("/api/status", &st); err != nil {
		return err
	}
	if c.json {
		c.printJSON(st)
		return nil
	}
	fmt.Printf("session: %v\nstate:   %v\ngroups:  %v\nuptime:  %vs\n",
		st["session"], st["state"], st["groups"], st["uptime_seconds"])
	return nil
}

func (c *client) cmdGroups(sub string, rest []string) error {
	switch sub {
	case "list":
		var groups []store.Group
		if err := c.get("/api/groups", &groups); err != nil {
			return err
		}
		if c.json {
			c.printJSON(groups)
			return nil
		}
		if len(groups) == 0 {
			fmt.Println("no groups monitored")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%s  %s (%d members)\n", g.ID, g.Name, g.MemberCount)
		}
		return nil
	case "add":
		if len(rest) < 1 {
			return fmt.Errorf("usage: groups add <name>")
		}
		var g store.Group
		if err := c.post("/api/groups", map[string]string{"name": rest[0]}, &g); err != nil {
			return err
		}
		if c.json {
			c.printJSON(g)
			return nil
		}
		fmt.Printf("monitoring %s (%s, %d members)\n", g.Name, g.ID, g.MemberCount)
		return nil
	case "remove":
		if len(rest) < 1 {
			return fmt.Errorf("usage: groups remove <id>")
		}
		if err := c.del("/api/groups/" + rest[0]); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil
	case "members":
		if len(rest) < 1 {
			return fmt.Errorf("usage: groups members <id>")
		}
		var members []store.GroupMember
		if err := c.get("/api/groups/"+rest[0]+"/members", &members); err != nil {
			return err
		}
		if c.json {
			c.printJSON(members)
			return nil
		}
		for _, m := range members {
			label := m.Name
			if label == "" {
				label = m.Phone
			}
			admin := ""
			if m.IsAdmin {
				admin = " (admin)"
			}
			fmt.Printf("%s  %s%s\n", m.MemberID, label, admin)
		}
		return nil
	default:
		return fmt.Errorf("unknown groups subcommand %q", sub)
	}
}

type messagePage struct {
	Items   []store.Message `json:"items"`
	Total   int             `json:"total"`
	HasMore bool            `json:"has_more"`
}

func query(limit int, pairs ...string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			q.Set(pairs[i], pairs[i+1])
		}
	}
	if enc := q.Encode(); enc != "" {
		return "?" + enc
	}
	return ""
}

func (c *client) cmdMessages(groupID string, limit int) error {
	var page messagePage
	path := "/api/messages" + query(limit, "group_id", groupID)
	if err := c.get(path, &page); err != nil {
		return err
	}
	if c.json {
		c.printJSON(page)
		return nil
	}
	printMessages(page.Items)
	fmt.Printf("(%d of %d)\n", len(page.Items), page.Total)
	return nil
}

func (c *client) cmdSearch(q, groupID string, limit int) error {
	var res struct {
		Items []store.Message `json:"items"`
	}
	path := "/api/search" + query(limit, "q", q, "group_id", groupID)
	if err := c.get(path, &res); err != nil {
		return err
	}
	if c.json {
		c.printJSON(res.Items)
		return nil
	}
	printMessages(res.Items)
	return nil
}

func printMessages(msgs []store.Message) {
	for _, m := range msgs {
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		body := m.Body
		if body == "" && m.HasMedia {
			body = "<" + m.Type + ">"
		}
		fmt.Printf("[%s] %s: %s\n", ts, m.SenderName, body)
	}
}

func (c *client) cmdStats(groupID string) error {
	var stats store.Stats
	if err := c.get("/api/stats"+query(0, "group_id", groupID), &stats); err != nil {
		return err
	}
	if c.json {
		c.printJSON(stats)
		return nil
	}
	fmt.Printf("messages: %d\nevents:   %d\nmembers:  %d\n", stats.MessageCount, stats.EventCount, stats.MemberCount)
	if len(stats.TopSenders) > 0 {
		fmt.Println("top senders:")
		for _, s := range stats.TopSenders {
			fmt.Printf("  %5d  %s\n", s.Count, s.Sender)
		}
	}
	return nil
}

func (c *client) cmdEvents(groupID, date, from, to, memberID string, limit int) error {
	var page struct {
		Items []store.Event `json:"items"`
		Total int           `json:"total"`
	}
	path := "/api/events" + query(limit,
		"group_id", groupID, "date", date, "from", from, "to", to, "member_id", memberID)
	if err := c.get(path, &page); err != nil {
		return err
	}
	if c.json {
		c.printJSON(page.Items)
		return nil
	}
	for _, e := range page.Items {
		fmt.Printf("%s  %-11s %s\n", e.Date, e.Type, e.MemberName)
	}
	fmt.Printf("(%d of %d)\n", len(page.Items), page.Total)
	return nil
}

func (c *client) cmdImport(path, groupID string) error {
	var res struct {
		JobID int64 `json:"job_id"`
	}
	if err := c.post("/api/import", map[string]string{"path": path, "group_id": groupID}, &res); err != nil {
		return err
	}
	if c.json {
		c.printJSON(res)
		return nil
	}
	fmt.Printf("queued as job %d\n", res.JobID)
	return nil
}

func (c *client) cmdImports() error {
	var jobs []store.ImportJob
	if err := c.get("/api/imports", &jobs); err != nil {
		return err
	}
	if c.json {
		c.printJSON(jobs)
		return nil
	}
	for _, j := range jobs {
		line := fmt.Sprintf("#%d  %-7s %s", j.ID, j.Status, j.FilePath)
		if j.Status == "done" {
			line += fmt.Sprintf(" (%d messages)", j.MessagesCount)
		}
		if j.ErrorMessage != "" {
			line += "  " + j.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

// cmdTail streams fanout envelopes over the websocket until interrupted.
func (c *client) cmdTail(addr string) error {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	for {
		var env struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if c.json {
			out, _ := json.Marshal(env)
			fmt.Println(string(out))
			continue
		}
		if len(env.Payload) > 0 {
			fmt.Printf("%-12s %s\n", env.Type, compact(env.Payload))
		} else {
			fmt.Println(env.Type)
		}
	}
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
