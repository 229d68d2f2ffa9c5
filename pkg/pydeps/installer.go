package pydeps

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/officestack/docpatch/pkg/logger"
)

// Report records the outcome of ensuring one requirement.
type Report struct {
	Name    string
	OK      bool
	Message string
}

// Installer probes and installs Python distributions for a specific
// interpreter. All failures are non-fatal by contract.
type Installer struct {
	python  string
	timeout time.Duration
	policy  *Policy
}

func NewInstaller(python string, timeout time.Duration, policy *Policy) *Installer {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Installer{python: python, timeout: timeout, policy: policy}
}

// EnsureInstalled makes one requirement importable: probe first, install
// the distribution if the probe fails, honoring the install policy.
func (in *Installer) EnsureInstalled(ctx context.Context, req Requirement) Report {
	if in.probe(ctx, req.Module) {
		return Report{Name: req.Module, OK: true, Message: "already available"}
	}

	if in.policy != nil {
		if reason := in.policy.DenyReason(req.Distribution); reason != "" {
			return Report{Name: req.Module, OK: false, Message: "install denied: " + reason}
		}
	}

	if err := in.install(ctx, req.Distribution); err != nil {
		return Report{Name: req.Module, OK: false, Message: err.Error()}
	}
	return Report{Name: req.Module, OK: true, Message: "installed " + req.Distribution}
}

// ResolveAll scans code and ensures every requirement, logging failures
// and carrying on. The pipeline never stops here; a genuinely missing
// package turns into an execution failure the error cycle can work with.
func (in *Installer) ResolveAll(ctx context.Context, code string) []Report {
	reqs := ScanImports(code)
	if len(reqs) == 0 {
		return nil
	}

	reports := make([]Report, 0, len(reqs))
	for _, req := range reqs {
		report := in.EnsureInstalled(ctx, req)
		if !report.OK {
			logger.WarnCF("pydeps", "Dependency not ensured",
				map[string]interface{}{"module": req.Module, "message": report.Message})
		} else {
			logger.DebugCF("pydeps", "Dependency ready",
				map[string]interface{}{"module": req.Module, "message": report.Message})
		}
		reports = append(reports, report)
	}
	return reports
}

func (in *Installer) probe(ctx context.Context, module string) bool {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, in.python, "-c", "import importlib, sys; importlib.import_module(sys.argv[1])", module)
	return cmd.Run() == nil
}

func (in *Installer) install(ctx context.Context, distribution string) error {
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	// uv's pip frontend first, matching the environment bootstrap.
	if uvPath, err := exec.LookPath("uv"); err == nil {
		cmd := exec.CommandContext(ctx, uvPath, "pip", "install", "--python", in.python, distribution)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}

	cmd := exec.CommandContext(ctx, in.python, "-m", "pip", "install", "--disable-pip-version-check", distribution)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pip install %s: %s", distribution, singleLine(string(out)))
	}
	return nil
}
