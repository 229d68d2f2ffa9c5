package pydeps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/officestack/docpatch/pkg/logger"
)

const pythonBootstrapMarker = ".docpatch-python-packages-v1"

// basePackages are always installed into a fresh workspace environment;
// generated code overwhelmingly manipulates documents through these.
var basePackages = []string{
	"python-docx",
	"openpyxl",
	"python-pptx",
	"lxml",
}

func venvDir(workspace string) string {
	return filepath.Join(workspace, ".venv")
}

func venvPythonPath(workspace string) string {
	return filepath.Join(venvDir(workspace), "bin", "python")
}

func markerPath(workspace string) string {
	return filepath.Join(venvDir(workspace), pythonBootstrapMarker)
}

// EnsureEnvironment prepares the workspace Python environment and returns
// the interpreter path the runner should use. A venv is created on first
// use (uv when available, python3 -m venv otherwise) and seeded with the
// base packages plus extras. When no venv can be created the system
// interpreter is returned with a warning rather than failing the pipeline.
func EnsureEnvironment(workspace string, extraPackages []string, timeout time.Duration) (string, error) {
	workspace = filepath.Clean(strings.TrimSpace(workspace))
	if workspace == "" {
		return "", fmt.Errorf("workspace path is empty")
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	if err := os.MkdirAll(workspace, 0755); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}

	venvPython := venvPythonPath(workspace)
	if !fileExists(venvPython) {
		if err := createVenv(workspace, timeout); err != nil {
			system, sysErr := SystemInterpreter()
			if sysErr != nil {
				return "", fmt.Errorf("create venv failed (%v) and no system python found: %w", err, sysErr)
			}
			logger.WarnCF("pydeps", "Venv creation failed, using system interpreter",
				map[string]interface{}{"error": err.Error(), "interpreter": system})
			return system, nil
		}
	}

	if fileExists(markerPath(workspace)) {
		return venvPython, nil
	}

	packages := append(append([]string{}, basePackages...), extraPackages...)
	if err := installPackages(venvPython, packages, timeout); err != nil {
		// Missing base packages surface later as execution failures the
		// error cycle can report; do not block startup.
		logger.WarnCF("pydeps", "Base package install failed",
			map[string]interface{}{"error": err.Error()})
		return venvPython, nil
	}

	if err := os.WriteFile(markerPath(workspace), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write python bootstrap marker: %w", err)
	}
	return venvPython, nil
}

// SystemInterpreter resolves python3 (or python) from PATH.
func SystemInterpreter() (string, error) {
	if path, err := exec.LookPath("python3"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("python"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no python interpreter on PATH")
}

func createVenv(workspace string, timeout time.Duration) error {
	dir := venvDir(workspace)
	venvPython := venvPythonPath(workspace)

	if uvPath, err := exec.LookPath("uv"); err == nil {
		if _, err := runCommandWithOutput(timeout, uvPath, "venv", dir); err == nil && fileExists(venvPython) {
			return nil
		}
	}

	python3, err := exec.LookPath("python3")
	if err != nil {
		return fmt.Errorf("python3 not found and uv venv unavailable (install `uv` or python3)")
	}
	out, err := runCommandWithOutput(timeout, python3, "-m", "venv", dir)
	if err != nil {
		return fmt.Errorf("create venv failed: %s%s", singleLine(out), setupHint(out))
	}
	if !fileExists(venvPython) {
		return fmt.Errorf("venv creation finished but %s is missing", venvPython)
	}
	return nil
}

func installPackages(venvPython string, packages []string, timeout time.Duration) error {
	if len(packages) == 0 {
		return nil
	}

	// Prefer uv's pip frontend when available; it handles modern packaging
	// smoothly.
	if uvPath, err := exec.LookPath("uv"); err == nil {
		args := append([]string{"pip", "install", "--python", venvPython}, packages...)
		if _, err := runCommandWithOutput(timeout, uvPath, args...); err == nil {
			return nil
		}
	}

	args := append([]string{"-m", "pip", "install", "--disable-pip-version-check"}, packages...)
	out, err := runCommandWithOutput(timeout, venvPython, args...)
	if err != nil {
		return fmt.Errorf("install python packages failed: %s%s", singleLine(out), setupHint(out))
	}
	return nil
}

func runCommandWithOutput(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if text == "" {
			text = "command timed out"
		}
		return text, ctx.Err()
	}
	if err != nil {
		if text == "" {
			text = err.Error()
		}
		return text, err
	}
	return text, nil
}

func setupHint(output string) string {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "no module named venv") || strings.Contains(lower, "ensurepip is not available") {
		return " (hint: sudo apt-get update && sudo apt-get install -y python3-venv python3-pip python-is-python3)"
	}
	return ""
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if len(s) > 220 {
		return s[:220] + "..."
	}
	return s
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
