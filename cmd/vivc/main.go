// Command vivc compiles shader IR programs described in YAML into
// Vivante GPU machine code, and disassembles compiled binaries.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gogpu/vivante"
	"github.com/gogpu/vivante/isa"
)

func main() {
	compileCmd := &cli.Command{
		Name:   "compile",
		Action: compileAct,
		Args:   cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "", "machine code output (default: input name with .bin)"),
			cli.NewFlag("dump", true, "print the shader listing"),
		},
	}

	disasmCmd := &cli.Command{
		Name:   "disasm",
		Action: disasmAct,
		Args:   cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("halti5", false, "decode the halti5 instruction layout"),
		},
	}

	app := &cli.Command{
		Name:        "vivc",
		Description: "vivc is a shader compiler for Vivante GCxxx GPU cores",
		Commands: []*cli.Command{
			compileCmd,
			disasmCmd,
		},
		Flags: []*cli.Flag{
			cli.HelpFlag,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		err = compileFile(ctx, c, a)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}
	}

	return nil
}

func compileFile(ctx context.Context, c *cli.Command, name string) (err error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return errors.Wrap(err, "read")
	}

	var f shaderFile

	err = yaml.Unmarshal(data, &f)
	if err != nil {
		return errors.Wrap(err, "parse")
	}

	p, specs, key, err := f.build()
	if err != nil {
		return errors.Wrap(err, "build program")
	}

	v, err := vivante.Compile(ctx, p, specs, key)
	if err != nil {
		return errors.Wrap(err, "compile")
	}

	out := c.String("output")
	if out == "" {
		out = strings.TrimSuffix(name, ".yaml") + ".bin"
	}

	code := make([]byte, 0, v.CodeSize)
	for _, w := range v.Code {
		code = binary.LittleEndian.AppendUint32(code, w)
	}

	err = os.WriteFile(out, code, 0o644)
	if err != nil {
		return errors.Wrap(err, "write code")
	}

	if c.Bool("dump") {
		v.Dump(os.Stdout)
	}

	return nil
}

func disasmAct(c *cli.Command) (err error) {
	halti5 := c.Bool("halti5")

	for _, a := range c.Args {
		data, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		if len(data)%isa.InstBytes != 0 {
			return errors.New("%v: truncated instruction stream", a)
		}

		for i := 0; i < len(data); i += isa.InstBytes {
			var w [isa.InstWords]uint32
			for j := range w {
				w[j] = binary.LittleEndian.Uint32(data[i+4*j:])
			}

			fmt.Printf("%3d: %v\n", i/isa.InstBytes, isa.Disassemble(w, halti5))
		}
	}

	return nil
}
