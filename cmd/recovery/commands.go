package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/costinm/goefi/pkg/config"
	"github.com/costinm/goefi/pkg/proto"
	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/ueficore"
)

// cmdlinePath holds a command line overriding the configuration.
const cmdlinePath = `\EFI\linux\cmdline`

// recovery implements the shell commands on top of the system table.
type recovery struct {
	st  *uefi.SystemTable
	log *zap.Logger
}

func (r *recovery) config() (config.Config, error) {
	cfg, _, err := config.Load(r.st.BootServices())
	if err != nil {
		return config.Default(), err
	}
	return cfg, nil
}

// handles lists every handle with the protocols installed on it.
func (r *recovery) handles() (string, error) {
	inv, err := proto.Inventory(r.st.BootServices())

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tPROTOCOLS")
	for _, h := range inv {
		fmt.Fprintf(w, "%#x\t%s\n", h.Handle, strings.Join(h.Protocols, ", "))
	}
	w.Flush()
	return b.String(), err
}

// known lists the protocols the shell can name.
func (r *recovery) known() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 8, 2, ' ', 0)
	for _, p := range proto.Known {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.GUID)
	}
	w.Flush()
	return b.String()
}

// locate lists the handles supporting the protocol named by arg, a known
// name or a GUID.
func (r *recovery) locate(arg string) (string, error) {
	p, ok := proto.Lookup(arg)
	if !ok {
		return "", fmt.Errorf("unknown protocol %q", arg)
	}
	handles, err := r.st.BootServices().LocateHandleBuffer(uefi.ByProtocol, &p.GUID).IgnoreWarning()
	if errors.Is(err, uefi.ErrNotFound) {
		return fmt.Sprintf("no handle supports %s\n", p.Name), nil
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, h := range handles {
		fmt.Fprintf(&b, "%#x\n", h)
	}
	return b.String(), nil
}

// vars lists the firmware variables with their size.
func (r *recovery) vars() (string, error) {
	rt := r.st.RuntimeServices()
	keys, err := rt.VariableKeys().IgnoreWarning()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 8, 2, ' ', 0)
	for _, k := range keys {
		v, err := rt.GetVariable(k.Name, k.Vendor).IgnoreWarning()
		if err != nil {
			fmt.Fprintf(w, "%s\t%v\n", k, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d bytes\t%#x\n", k, len(v.Data), v.Attributes)
	}
	w.Flush()
	return b.String(), nil
}

// showConfig prints the configuration in effect as YAML.
func (r *recovery) showConfig() (string, error) {
	cfg, err := r.config()
	if err != nil {
		return "", err
	}
	b, err := yaml.Marshal(cfg)
	return string(b), err
}

// boot starts a kernel. The first argument overrides the configured kernel
// path, the rest make up the command line. Without one, the command line is
// read from cmdlinePath, or taken from the configuration.
func (r *recovery) boot(args []string) (string, error) {
	cfg, err := r.config()
	if err != nil {
		r.log.Warn("using default configuration", zap.Error(err))
	}

	k := ueficore.Kernel{Path: cfg.KernelPath(), Cmdline: cfg.CommandLine()}
	if len(args) > 0 {
		k.Path = strings.ReplaceAll(args[0], "/", `\`)
	}

	l := ueficore.NewLoader(r.st.BootServices(), r.log)
	switch {
	case len(args) > 1:
		k.Cmdline = strings.Join(args[1:], " ")
	default:
		if b, err := l.ReadFile(cmdlinePath); err == nil {
			k.Cmdline = strings.TrimSpace(string(b))
		}
	}

	if err := l.Start(k); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s returned\n", k.Path), nil
}
