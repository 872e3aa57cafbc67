// Command rulectl is a developer tool that dry-runs rule files against a
// workflow fixture: it evaluates expressions, resolves record specs and
// calculates statuses without calling any provider.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/config"
	"github.com/goliatone/go-rules/engine"
	"github.com/goliatone/go-rules/record"
)

type cli struct {
	Config   string   `help:"Process config file." type:"path"`
	Rules    []string `help:"Rule files or glob patterns." sep:","`
	LogLevel string   `help:"Log level." default:"warn" name:"log-level"`

	Eval     evalCmd     `cmd:"" help:"Evaluate an expression against a workflow fixture."`
	Resolve  resolveCmd  `cmd:"" help:"Resolve the record spec of an event template."`
	Status   statusCmd   `cmd:"" help:"Calculate the status of a task template."`
	Validate validateCmd `cmd:"" help:"Validate config and rule files."`
}

// runContext is bound into every command's Run.
type runContext struct {
	ctx    context.Context
	cli    *cli
	out    io.Writer
	logger rules.Logger
}

// fixture is the workflow state a dry run evaluates against.
type fixture struct {
	WorkflowID string          `json:"workflowId" yaml:"workflowId"`
	Documents  rules.Documents `json:"documents" yaml:"documents"`
	Events     rules.Events    `json:"events" yaml:"events"`
}

func loadFixture(path string) (fixture, error) {
	var f fixture
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

func (r *runContext) engine() (*engine.Engine, error) {
	var set config.RuleSet
	if len(r.cli.Rules) > 0 {
		loaded, err := config.LoadRuleSets(r.cli.Rules...)
		if err != nil {
			return nil, err
		}
		set = loaded
	}
	cfg := &config.Config{}
	if r.cli.Config != "" {
		loaded, err := config.Load(r.cli.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	// dry runs never reach a provider or a shared counter
	cfg.Providers = nil
	cfg.Sequence = config.Sequence{Backend: config.SequenceMemory}
	return engine.New(r.ctx, cfg, set, engine.Deps{Logger: r.logger})
}

func (r *runContext) print(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type evalCmd struct {
	Fixture    string `help:"Workflow fixture (yaml or json)." type:"path" short:"f"`
	Expression string `arg:"" help:"Rule expression."`
}

func (c *evalCmd) Run(r *runContext) error {
	fx, err := loadFixture(c.Fixture)
	if err != nil {
		return err
	}
	e, err := r.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	out, err := e.Evaluate(r.ctx, c.Expression, fx.Documents, fx.Events)
	if err != nil {
		return err
	}
	return r.print(out)
}

type resolveCmd struct {
	Fixture    string `help:"Workflow fixture (yaml or json)." type:"path" short:"f"`
	Index      int    `help:"Array index substituted for X in paths; negative for none." default:"-1"`
	TemplateID string `arg:"" help:"Event template id."`
}

func (c *resolveCmd) Run(r *runContext) error {
	fx, err := loadFixture(c.Fixture)
	if err != nil {
		return err
	}
	e, err := r.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	tpl, ok := e.RuleSet().Template(c.TemplateID)
	if !ok {
		return rules.NewConfigurationError(fmt.Sprintf("no rule for event template %q", c.TemplateID), nil)
	}
	spec := tpl.Data.Record
	if spec == nil {
		return rules.NewConfigurationError(fmt.Sprintf("event template %s has no record spec", c.TemplateID), nil)
	}

	opts := []record.ResolveOption{record.WithTemplateID(tpl.ID)}
	if c.Index >= 0 {
		opts = append(opts, record.WithArrayIndex(c.Index))
	}
	rec, err := e.Resolve(r.ctx, spec, fx.Documents, fx.Events, opts...)
	if err != nil {
		return err
	}
	return r.print(rec)
}

type statusCmd struct {
	Fixture        string `help:"Workflow fixture (yaml or json)." type:"path" short:"f"`
	TaskTemplateID int    `arg:"" help:"Task template id."`
}

func (c *statusCmd) Run(r *runContext) error {
	fx, err := loadFixture(c.Fixture)
	if err != nil {
		return err
	}
	e, err := r.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.CalculateStatus(r.ctx, c.TaskTemplateID, fx.Documents, fx.Events)
	if err != nil {
		return err
	}
	return r.print(res)
}

type validateCmd struct{}

func (c *validateCmd) Run(r *runContext) error {
	if r.cli.Config != "" {
		if _, err := config.Load(r.cli.Config); err != nil {
			return err
		}
	}
	set, err := config.LoadRuleSets(r.cli.Rules...)
	if err != nil {
		return err
	}
	tasks := make([]string, 0, len(set.Statuses))
	for _, s := range set.Statuses {
		tasks = append(tasks, strconv.Itoa(s.TaskTemplateID))
	}
	return r.print(map[string]any{
		"eventTemplates": set.IDs(),
		"statuses":       tasks,
	})
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("rulectl"),
		kong.Description("Dry-run event rules against a workflow fixture."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&runContext{
		ctx:    ctx,
		cli:    &c,
		out:    stdout,
		logger: rules.NewJSONLogger(stderr, c.LogLevel),
	})
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "rulectl: %v\n", err)
		if meta := rules.ErrorMetadata(err); len(meta) > 0 {
			fmt.Fprintf(os.Stderr, "  %v\n", meta)
		}
		os.Exit(1)
	}
}
