// Package manpage generates a roff-formatted man page for sysmon.
//
// The page is built at runtime from the cobra command tree, the dashboard
// key bindings and the configuration defaults, so documentation cannot
// drift from the code.
//
// Usage:
//
//	sysmon man | man -l -
//	sysmon man > ~/.local/share/man/man1/sysmon.1
package manpage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/display/tui"
)

// Generate produces a complete man(1) page for root. The version, commit,
// and date parameters come from the build-time linker variables.
func Generate(root *cobra.Command, version, commit, date string) string {
	var b strings.Builder

	writeHeader(&b, version)
	writeName(&b)
	writeSynopsis(&b, root)
	writeDescription(&b)
	writeGlobalOptions(&b, root)
	writeCommands(&b, root)
	writeKeybindings(&b)
	writeConfiguration(&b)
	writeFiles(&b)
	writeEnvironment(&b)
	writeExamples(&b)
	writeExitStatus(&b)
	writeSeeAlso(&b)
	writeFooter(&b, version, commit, date)

	return b.String()
}

// roffEscape escapes special roff characters in a string.
func roffEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `-`, `\-`)
	if strings.HasPrefix(s, ".") || strings.HasPrefix(s, "'") {
		s = `\&` + s
	}
	return s
}

func writeHeader(b *strings.Builder, version string) {
	month := time.Now().Format("January 2006")
	fmt.Fprintf(b, ".TH SYSMON 1 \"%s\" \"sysmon %s\" \"User Commands\"\n", month, version)
}

func writeName(b *strings.Builder) {
	b.WriteString(`.SH NAME
sysmon \- terminal system monitor
`)
}

func writeSynopsis(b *strings.Builder, root *cobra.Command) {
	b.WriteString(".SH SYNOPSIS\n")
	for _, cmd := range visibleCommands(root) {
		fmt.Fprintf(b, ".B sysmon %s\n", roffEscape(cmd.Name()))
		b.WriteString("[\\fIOPTIONS\\fR]")
		if rest := strings.TrimSpace(strings.TrimPrefix(cmd.Use, cmd.Name())); rest != "" {
			fmt.Fprintf(b, " \\fI%s\\fR", roffEscape(rest))
		}
		b.WriteString("\n.br\n")
	}
}

func writeDescription(b *strings.Builder) {
	b.WriteString(`.SH DESCRIPTION
.B sysmon
samples CPU, memory, disk, network and process metrics on a fixed interval
and renders them as a live terminal dashboard with trend sparklines.
.PP
Snapshots can be persisted to a JSON file or a SQLite database with a
bounded number of records, queried later with
.BR "sysmon history" ,
and moved between machines with
.B export
and
.BR import .
.PP
A metric category that cannot be read (for example process details without
sufficient privileges) is shown as unavailable with the reason; the rest of
the dashboard keeps updating.
`)
}

func writeGlobalOptions(b *strings.Builder, root *cobra.Command) {
	b.WriteString(".SH OPTIONS\nThese options apply to every command.\n")
	writeFlags(b, root.PersistentFlags())
}

func writeCommands(b *strings.Builder, root *cobra.Command) {
	b.WriteString(".SH COMMANDS\n")
	for _, cmd := range visibleCommands(root) {
		fmt.Fprintf(b, ".SS %s\n%s\n", roffEscape(cmd.Name()), roffEscape(cmd.Short))
		for _, sub := range visibleCommands(cmd) {
			fmt.Fprintf(b, ".TP\n.B %s\n%s\n", roffEscape(sub.Use), roffEscape(sub.Short))
		}
		writeFlags(b, cmd.LocalNonPersistentFlags())
	}
}

func writeFlags(b *strings.Builder, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		b.WriteString(".TP\n")
		name := "\\-\\-" + roffEscape(f.Name)
		if f.Shorthand != "" {
			name = "\\-" + f.Shorthand + ", " + name
		}
		if f.Value.Type() == "bool" {
			fmt.Fprintf(b, ".B %s\n", name)
		} else {
			fmt.Fprintf(b, ".BR %s \" \\fI%s\\fR\"\n", name, f.Value.Type())
		}
		usage := roffEscape(f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "[]" {
			usage += fmt.Sprintf(" Default: %s.", roffEscape(f.DefValue))
		}
		b.WriteString(usage + "\n")
	})
}

func writeKeybindings(b *strings.Builder) {
	b.WriteString(`.SH KEYBINDINGS
Active in the live dashboard started by
.BR "sysmon monitor" .
`)
	for _, k := range tui.KeyBindings() {
		keysStr := strings.Join(k.Keys(), ", ")
		fmt.Fprintf(b, ".TP\n.B %s\n%s\n", roffEscape(keysStr), roffEscape(k.Help().Desc))
	}
}

func writeConfiguration(b *strings.Builder) {
	b.WriteString(`.SH CONFIGURATION
Configuration is read from a YAML file, by default
.IR ~/.config/sysmon/config.yaml .
Missing keys take their defaults. Keys are changed with
.B sysmon config set
\fIkey\fR \fIvalue\fR, which validates before writing.
`)
	section := ""
	for _, key := range config.Keys() {
		head, leaf, _ := strings.Cut(key, ".")
		if head != section {
			section = head
			fmt.Fprintf(b, ".SS %s\n", roffEscape(section))
		}
		fmt.Fprintf(b, ".TP\n.B %s\n", roffEscape(leaf))
		if def, err := config.DefaultValue(key); err == nil {
			fmt.Fprintf(b, "Default: %s\n", roffEscape(formatDefault(def)))
		}
	}
}

func writeFiles(b *strings.Builder) {
	b.WriteString(`.SH FILES
.TP
.I ~/.config/sysmon/config.yaml
Configuration file.
.TP
.I ~/.local/share/sysmon/history.json
Snapshot store for the json backend.
.TP
.I ~/.local/share/sysmon/history.db
Snapshot store for the sqlite backend.
.TP
.I ~/.local/state/sysmon/sysmon.log
Log file. The dashboard owns the terminal, so logs never go to stderr.
`)
}

func writeEnvironment(b *strings.Builder) {
	b.WriteString(`.SH ENVIRONMENT
.TP
.B SYSMON_CONFIG
Override the configuration file path.
.TP
.B SYSMON_\fISECTION\fB_\fIKEY\fR
Override one configuration key for a single run, e.g.
.BR SYSMON_DISPLAY_REFRESH_INTERVAL=1 .
Overrides are never written to the file.
.TP
.B NO_COLOR
Disable colored output when set to any non-empty value.
.TP
.BR XDG_CONFIG_HOME ", " XDG_DATA_HOME ", " XDG_STATE_HOME
Base directories for the files above.
`)
}

func writeExamples(b *strings.Builder) {
	b.WriteString(`.SH EXAMPLES
Start the dashboard, sampling every second with per-core gauges:
.PP
.nf
sysmon monitor \-i 1 \-\-per\-cpu
.fi
.PP
Stream snapshots as JSON lines:
.PP
.nf
sysmon monitor \-\-json \-\-no\-store | jq .cpu.percent
.fi
.PP
Persist to SQLite and expose Prometheus metrics:
.PP
.nf
sysmon config set storage.enabled true
sysmon config set storage.backend sqlite
sysmon monitor \-\-metrics\-addr 127.0.0.1:9273
.fi
.PP
Show the last hour of stored snapshots:
.PP
.nf
sysmon history \-\-since 1h
.fi
`)
}

func writeExitStatus(b *strings.Builder) {
	b.WriteString(".SH EXIT STATUS\n")
	b.WriteString(".TP\n.B 0\nSuccess.\n")
	b.WriteString(".TP\n.B 1\nInvalid configuration, storage failure, or a command error.\n")
}

func writeSeeAlso(b *strings.Builder) {
	b.WriteString(`.SH SEE ALSO
.BR top (1),
.BR htop (1),
.BR sqlite3 (1)
`)
}

func writeFooter(b *strings.Builder, version, commit, date string) {
	fmt.Fprintf(b, ".SH VERSION\n%s (%s) built %s\n", version, commit, date)
}

func visibleCommands(cmd *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, c := range cmd.Commands() {
		if c.Hidden || c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func formatDefault(v any) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	s := strings.TrimSpace(string(data))
	if s == "" || s == `""` {
		return "(empty)"
	}
	return s
}
