package runbook

import (
	"context"
	"fmt"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/insta/pkg/config"
	"github.com/openfroyo/insta/pkg/stores"
)

// RunCookbook executes a Starlark cookbook. Every primitive the script calls
// runs immediately as the next step of one run, so later code can branch on
// what earlier calls changed. vars is exposed to the script as a dict named
// vars.
//
// Primitives:
//
//	patch(target, *hunks, hosts=[], patch_file="", id="") -> bool
//	package(*names) -> bool
//	clone(repo, dir, commit="") -> bool
//	ln(src, dst) -> bool
//	cp(src, dst) -> bool
//	chmod(path, mode) -> bool
//	chown(path, owner) -> bool
//	write_text(path, text) -> bool
//	make(target, commands, deps=[]) -> bool
//	curl(url, dir="") -> str
func (r *Runner) RunCookbook(ctx context.Context, filename string, src []byte, vars map[string]string) (*Report, error) {
	return r.execute(ctx, filename, filepath.Dir(filename), func(ctx context.Context, rn *run) error {
		thread := &starlark.Thread{
			Name: "insta",
			Print: func(_ *starlark.Thread, msg string) {
				r.logger.Info().Str("cookbook", filename).Msg(msg)
			},
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				thread.Cancel(ctx.Err().Error())
			case <-done:
			}
		}()

		predeclared, err := r.cookbookBuiltins(ctx, rn, vars)
		if err != nil {
			return err
		}

		_, err = starlark.ExecFile(thread, filename, src, predeclared)
		return err
	})
}

func (r *Runner) cookbookBuiltins(ctx context.Context, rn *run, vars map[string]string) (starlark.StringDict, error) {
	v, err := toStarlarkValue(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to convert vars: %w", err)
	}

	// step runs s and returns its changed flag to the script.
	step := func(s config.Step) (starlark.Value, error) {
		sr, err := r.runStep(ctx, rn, s)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(sr.Status == stores.StepStatusChanged), nil
	}

	builtins := map[string]func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"patch": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepPatch}
			var hosts starlark.Value
			rest, err := unpackLeading(b, args, &s.Target)
			if err != nil {
				return nil, err
			}
			if err := starlark.UnpackArgs(b.Name(), nil, kwargs,
				"hosts?", &hosts, "patch_file?", &s.PatchFile, "id?", &s.ID); err != nil {
				return nil, err
			}
			if s.Hunks, err = stringList("hunks", rest); err != nil {
				return nil, err
			}
			if s.Hosts, err = stringList("hosts", hosts); err != nil {
				return nil, err
			}
			if s.Target == "" && len(s.Hosts) == 0 {
				return nil, fmt.Errorf("%s: target or hosts is required", b.Name())
			}
			return step(s)
		},
		"package": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
			}
			names, err := stringList("names", args)
			if err != nil {
				return nil, err
			}
			return step(config.Step{Type: config.StepPackage, Packages: names})
		},
		"clone": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepClone}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "repo", &s.Repo, "dir", &s.Dir, "commit?", &s.Commit); err != nil {
				return nil, err
			}
			return step(s)
		},
		"ln": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepLink}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "src", &s.From, "dst", &s.To); err != nil {
				return nil, err
			}
			return step(s)
		},
		"cp": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepCopy}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "src", &s.From, "dst", &s.To); err != nil {
				return nil, err
			}
			return step(s)
		},
		"chmod": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepChmod}
			var mode starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &s.Path, "mode", &mode); err != nil {
				return nil, err
			}
			var err error
			if s.Mode, err = modeString(mode); err != nil {
				return nil, err
			}
			return step(s)
		},
		"chown": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepChown}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &s.Path, "owner", &s.Owner); err != nil {
				return nil, err
			}
			return step(s)
		},
		"write_text": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepWriteText}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &s.Path, "text", &s.Text); err != nil {
				return nil, err
			}
			return step(s)
		},
		"make": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepMake}
			var cmds, deps starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &s.Target, "commands", &cmds, "deps?", &deps); err != nil {
				return nil, err
			}
			var err error
			if s.Commands, err = stringList("commands", cmds); err != nil {
				return nil, err
			}
			if s.Deps, err = stringList("deps", deps); err != nil {
				return nil, err
			}
			return step(s)
		},
		"curl": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			s := config.Step{Type: config.StepCurl}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &s.URL, "dir?", &s.Dir); err != nil {
				return nil, err
			}
			sr, err := r.runStep(ctx, rn, s)
			if err != nil {
				return nil, err
			}
			return starlark.String(sr.Output), nil
		},
	}

	predeclared := starlark.StringDict{
		"struct":  starlarkstruct.Default,
		"vars":    v,
		"dry_run": starlark.Bool(r.dryRun),
	}
	for name, fn := range builtins {
		predeclared[name] = starlark.NewBuiltin(name, fn)
	}
	return predeclared, nil
}

// unpackLeading unpacks leading positional strings into dst and returns the
// remaining positional arguments.
func unpackLeading(b *starlark.Builtin, args starlark.Tuple, dst ...*string) (starlark.Tuple, error) {
	if len(args) < len(dst) {
		return nil, fmt.Errorf("%s: got %d positional arguments, want at least %d", b.Name(), len(args), len(dst))
	}
	for i, d := range dst {
		s, ok := starlark.AsString(args[i])
		if !ok {
			return nil, fmt.Errorf("%s: argument %d: got %s, want string", b.Name(), i+1, args[i].Type())
		}
		*d = s
	}
	return args[len(dst):], nil
}
