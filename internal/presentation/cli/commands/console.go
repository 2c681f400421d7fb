package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/leadline/internal/application"
	"github.com/jbctechsolutions/leadline/internal/application/callsession"
	"github.com/jbctechsolutions/leadline/internal/application/data"
	"github.com/jbctechsolutions/leadline/internal/application/syncer"
	"github.com/jbctechsolutions/leadline/internal/domain/call"
	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/domain/session"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/connectivity"
	"github.com/jbctechsolutions/leadline/internal/presentation/cli/output"
)

// NewConsoleCmd creates the interactive agent console.
func NewConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive call and lead console",
		Long: `Start the background services and open an interactive console for working
calls: qualify leads, handle queued calls and watch sync state.

Type "help" inside the console for the command list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			return runConsole(appContext(), container)
		},
	}
}

func runConsole(ctx context.Context, container *application.Container) error {
	if err := container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "leadline> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    consoleCompleter(),
	})
	if err != nil {
		return fmt.Errorf("could not create readline: %w", err)
	}
	defer rl.Close()

	base := GetFormatter()
	out := output.NewFormatter(
		output.WithWriter(rl.Stdout()),
		output.WithFormat(base.Format()),
		output.WithColor(!base.IsJSON() && output.IsColorSupported()),
	)
	console := NewConsole(container, out)

	snaps, unsubscribe := container.Sessions().Subscribe()
	defer unsubscribe()
	go console.Watch(ctx, snaps)

	_ = out.Info("Type a command, or \"help\". Ctrl-D exits.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		quit, err := console.Exec(ctx, line)
		if err != nil {
			_ = out.Error("%s", err.Error())
		}
		if quit || ctx.Err() != nil {
			break
		}
	}
	return nil
}

func consoleCompleter() *readline.PrefixCompleter {
	fields := make([]readline.PrefixCompleterInterface, 0, len(formFields))
	for _, f := range formFields {
		fields = append(fields, readline.PcItem(f))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("ring"), readline.PcItem("answer"), readline.PcItem("idle"),
		readline.PcItem("start"), readline.PcItem("open"), readline.PcItem("show"),
		readline.PcItem("set", fields...),
		readline.PcItem("save", readline.PcItem("update"), readline.PcItem("new")),
		readline.PcItem("callback"), readline.PcItem("spam"), readline.PcItem("cold"),
		readline.PcItem("queue",
			readline.PcItem("pick"), readline.PcItem("dismiss"), readline.PcItem("callback")),
		readline.PcItem("find"), readline.PcItem("reset"), readline.PcItem("sync"),
		readline.PcItem("status"), readline.PcItem("help"), readline.PcItem("quit"),
	)
}

var formFields = []string{
	"phone", "name", "source", "language", "location", "area", "interest",
	"brand", "model", "budget", "emi", "visit_intent", "call_notes", "assigned_to",
}

// Console executes console command lines against the running services.
type Console struct {
	sessions *callsession.Coordinator
	data     *data.Service
	syncer   *syncer.Coordinator
	monitor  *connectivity.Monitor
	out      *output.Formatter
	now      func() time.Time
}

// NewConsole binds a console to container's services.
func NewConsole(container *application.Container, out *output.Formatter) *Console {
	return &Console{
		sessions: container.Sessions(),
		data:     container.Data(),
		syncer:   container.Syncer(),
		monitor:  container.Monitor(),
		out:      out,
		now:      time.Now,
	}
}

// Exec runs one command line. It reports whether the console should exit.
func (c *Console) Exec(ctx context.Context, line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		return false, c.help()

	case "ring", "answer", "idle":
		return false, c.event(ctx, cmd, args)

	case "start":
		if len(args) == 0 {
			return false, usage("start <phone>")
		}
		if err := c.sessions.StartManual(strings.Join(args, " ")); err != nil {
			return false, err
		}
		return false, c.show()
	case "open":
		if err := c.sessions.OpenForm(); err != nil {
			return false, err
		}
		return false, c.show()
	case "show", "form":
		return false, c.show()
	case "set":
		if len(args) < 1 {
			return false, usage("set <field> <value>")
		}
		return false, c.sessions.SetField(strings.ToLower(args[0]), strings.Join(args[1:], " "))

	case "save":
		opts := callsession.SubmitOptions{}
		if len(args) > 0 {
			switch args[0] {
			case "update", string(callsession.ResolutionUpdateExisting):
				opts.Resolution = callsession.ResolutionUpdateExisting
			case "new", string(callsession.ResolutionCreateNew):
				opts.Resolution = callsession.ResolutionCreateNew
			default:
				return false, usage("save [update|new]")
			}
		}
		return false, c.submit(ctx, callsession.ActionSave, opts)
	case "callback", "spam", "cold", "skip":
		action, err := callsession.ParseAction(cmd)
		if err != nil {
			return false, err
		}
		return false, c.submit(ctx, action, callsession.SubmitOptions{})

	case "queue":
		return false, c.queue(ctx, args)
	case "find":
		if len(args) == 0 {
			return false, usage("find <phone>")
		}
		return false, c.find(ctx, strings.Join(args, " "))
	case "reset":
		c.sessions.Reset(ctx)
		return false, c.out.Info("Session cleared")
	case "sync":
		return false, c.sync(ctx)
	case "status":
		return false, c.status(ctx)
	}
	return false, fmt.Errorf("unknown command %q (try \"help\")", cmd)
}

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}

func (c *Console) event(ctx context.Context, cmd string, args []string) error {
	kind := map[string]call.Kind{"ring": call.Ringing, "answer": call.Answered, "idle": call.Idle}[cmd]
	c.sessions.HandleEvent(ctx, call.Event{Kind: kind, Number: strings.Join(args, " "), At: c.now()})
	return nil
}

func (c *Console) submit(ctx context.Context, action callsession.Action, opts callsession.SubmitOptions) error {
	snap := c.sessions.Snapshot()
	phone := session.Phone(snap.State)

	rec, err := c.sessions.Submit(ctx, action, opts)
	if err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateUnresolved) && snap.Candidate != nil {
			_ = c.out.Warning("Existing lead %s for %s", leadLabel(snap.Candidate.Lead), snap.Candidate.Phone)
			return errors.New(`resolve with "save update" or "save new"`)
		}
		return err
	}

	switch action {
	case callsession.ActionCold:
		return c.out.Success("Skipped %s", phone)
	case callsession.ActionSpam:
		return c.out.Success("Marked %s as spam", phone)
	case callsession.ActionCallback:
		return c.out.Success("Callback scheduled for %s", phone)
	}
	return c.out.Success("Saved lead %s", leadLabel(rec))
}

func (c *Console) queue(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.printQueue(c.sessions.Snapshot().Queue)
	}
	if len(args) < 2 {
		return usage("queue [pick|dismiss|callback <phone>]")
	}
	phone := record.NormalizePhone(strings.Join(args[1:], " "))

	switch args[0] {
	case "pick":
		if err := c.sessions.PickQueued(phone); err != nil {
			return err
		}
		return c.show()
	case "dismiss":
		if err := c.sessions.DismissQueued(phone); err != nil {
			return err
		}
		return c.out.Info("Dismissed %s", phone)
	case "callback":
		if _, err := c.sessions.CallBackQueued(ctx, phone); err != nil {
			return err
		}
		return c.out.Success("Callback scheduled for %s", phone)
	}
	return usage("queue [pick|dismiss|callback <phone>]")
}

func (c *Console) printQueue(calls []call.QueuedCall) error {
	if c.out.IsJSON() {
		return c.out.JSON(calls)
	}
	if len(calls) == 0 {
		return c.out.Info("No queued calls")
	}
	now := c.now()
	rows := make([][]string, len(calls))
	for i, q := range calls {
		rows[i] = []string{q.Phone, string(q.Classification), output.Ago(q.ObservedAt, now)}
	}
	return c.out.Table(output.TableData{
		Columns: []output.TableColumn{{Header: "PHONE"}, {Header: "STATUS"}, {Header: "AGO", Align: output.AlignRight}},
		Rows:    rows,
	})
}

func (c *Console) find(ctx context.Context, phone string) error {
	lead, err := c.data.SearchByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if lead == nil {
		return c.out.Info("No lead for %s", record.NormalizePhone(phone))
	}
	if c.out.IsJSON() {
		return c.out.JSON(lead)
	}
	return c.printRecord(lead)
}

func (c *Console) sync(ctx context.Context) error {
	res, err := c.syncer.Drain(ctx, syncer.TriggerManual)
	if err != nil {
		return err
	}
	return printDrain(c.out, res)
}

func (c *Console) status(ctx context.Context) error {
	snap := c.sessions.Snapshot()
	st := consoleStatus{
		Online:  c.monitor.IsOnline(),
		Pending: c.data.PendingSyncCount(ctx),
		Session: session.Name(snap.State),
		Phone:   session.Phone(snap.State),
		Call:    string(session.CallOf(snap.State)),
		Queued:  len(snap.Queue),
	}
	if c.out.IsJSON() {
		return c.out.JSON(st)
	}
	_ = c.out.Item("Remote", onlineLabel(st.Online))
	_ = c.out.Item("Pending", fmt.Sprintf("%d", st.Pending))
	focus := st.Session
	if st.Phone != "" {
		focus = fmt.Sprintf("%s %s (%s)", st.Session, st.Phone, st.Call)
	}
	_ = c.out.Item("Session", focus)
	return c.out.Item("Queued", fmt.Sprintf("%d", st.Queued))
}

type consoleStatus struct {
	Online  bool   `json:"online"`
	Pending int    `json:"pending"`
	Session string `json:"session"`
	Phone   string `json:"phone,omitempty"`
	Call    string `json:"call,omitempty"`
	Queued  int    `json:"queued"`
}

func (c *Console) show() error {
	snap := c.sessions.Snapshot()
	switch st := snap.State.(type) {
	case session.Qualifying:
		if c.out.IsJSON() {
			return c.out.JSON(map[string]any{"phone": st.Phone, "call": st.Call, "form": st.Form})
		}
		_ = c.out.Header(fmt.Sprintf("Lead %s (%s)", st.Phone, st.Call))
		if err := c.printRecord(st.Form.LeadFields()); err != nil {
			return err
		}
		if snap.Candidate != nil {
			_ = c.out.Warning("Possible duplicate: %s", leadLabel(snap.Candidate.Lead))
		}
		return nil
	case session.Tracking:
		return c.out.Info("Tracking %s (%s)", st.Phone, st.Call)
	}
	return c.out.Info("Waiting for calls")
}

func (c *Console) printRecord(r record.Record) error {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.out.Item(k, fmt.Sprint(r[k])); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) help() error {
	_ = c.out.Header("Console commands")
	for _, h := range [][2]string{
		{"ring|answer|idle <number>", "feed a telephony event"},
		{"start <phone>", "open a form for a number without a call"},
		{"open", "open the form for the tracked call"},
		{"set <field> <value>", "edit a form field"},
		{"show", "show the current session"},
		{"save [update|new]", "save the lead, resolving a duplicate if needed"},
		{"callback | spam | cold", "finish the session another way"},
		{"queue [pick|dismiss|callback <phone>]", "list or handle queued calls"},
		{"find <phone>", "look up the newest lead for a number"},
		{"reset", "discard the current session"},
		{"sync", "replay pending offline actions now"},
		{"status", "connectivity, pending and session summary"},
		{"quit", "leave the console"},
	} {
		if err := c.out.Item(h[0], h[1]); err != nil {
			return err
		}
	}
	return nil
}

// Watch prints notices for session changes until snaps closes or ctx ends.
func (c *Console) Watch(ctx context.Context, snaps <-chan callsession.Snapshot) {
	prev := c.sessions.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			for _, n := range describeChange(prev, snap) {
				_ = c.out.Info("%s", n)
			}
			prev = snap
		}
	}
}

// describeChange lists what an agent should notice between two snapshots.
func describeChange(prev, next callsession.Snapshot) []string {
	var notes []string

	if session.Name(prev.State) != session.Name(next.State) ||
		session.Phone(prev.State) != session.Phone(next.State) ||
		session.CallOf(prev.State) != session.CallOf(next.State) {
		switch st := next.State.(type) {
		case session.Tracking:
			notes = append(notes, fmt.Sprintf("Call %s: %s", st.Phone, st.Call))
		case session.Qualifying:
			notes = append(notes, fmt.Sprintf("Qualifying %s (%s)", st.Phone, st.Call))
		default:
			if session.IsActive(prev.State) {
				notes = append(notes, "Waiting for calls")
			}
		}
	}

	before := make(map[string]call.Classification, len(prev.Queue))
	for _, q := range prev.Queue {
		before[q.Phone] = q.Classification
	}
	for _, q := range next.Queue {
		cls, seen := before[q.Phone]
		switch {
		case !seen:
			notes = append(notes, fmt.Sprintf("Queued call from %s", q.Phone))
		case cls != q.Classification && q.Classification == call.Missed:
			notes = append(notes, fmt.Sprintf("Missed call from %s", q.Phone))
		}
	}

	if next.Candidate != nil && (prev.Candidate == nil || prev.Candidate.Lead.ID() != next.Candidate.Lead.ID()) {
		notes = append(notes, "Possible duplicate: "+leadLabel(next.Candidate.Lead))
	}
	return notes
}

func leadLabel(r record.Record) string {
	if r == nil {
		return ""
	}
	label := r.ID()
	if name := r.String(record.FieldName); name != "" {
		label += " (" + name + ")"
	}
	if stage := r.String(record.FieldStage); stage != "" {
		label += " [" + stage + "]"
	}
	return label
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
