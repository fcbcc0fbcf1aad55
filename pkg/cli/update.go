package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/blang/semver"
	"github.com/rhysd/go-github-selfupdate/selfupdate"
)

// Version is the running build, overridden with -ldflags "-X".
var Version = "0.1.0"

// Repo is the GitHub repository releases are fetched from.
const Repo = "Fepozopo/maskedit"

// releasesURL is a format string taking the repository slug.
var releasesURL = "https://api.github.com/repos/%s/releases"

var semverRe = regexp.MustCompile(`v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?`)

type githubRelease struct {
	TagName    string        `json:"tag_name"`
	Name       string        `json:"name"`
	Draft      bool          `json:"draft"`
	Prerelease bool          `json:"prerelease"`
	Assets     []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// releaseVersion finds a semver in the tag, falling back to the release name.
func releaseVersion(r githubRelease) (semver.Version, bool) {
	for _, s := range []string{r.TagName, r.Name} {
		m := semverRe.FindString(s)
		if m == "" {
			continue
		}
		if v, err := semver.Parse(strings.TrimPrefix(m, "v")); err == nil {
			return v, true
		}
	}
	return semver.Version{}, false
}

// pickAsset prefers an asset named for this platform, then any binary-looking
// asset, then the first one.
func pickAsset(r githubRelease) string {
	best, rank := "", 0
	for _, a := range r.Assets {
		n := strings.ToLower(a.Name)
		score := 1
		if strings.Contains(n, "linux") || strings.Contains(n, "darwin") || strings.Contains(n, "windows") {
			score = 2
		}
		if strings.Contains(n, runtime.GOOS) && strings.Contains(n, runtime.GOARCH) {
			score = 3
		}
		if score > rank {
			best, rank = a.BrowserDownloadURL, score
		}
	}
	return best
}

// detectLatest queries the releases API for repo and returns the highest
// published, non-prerelease semver release. found is false when no release
// qualifies.
func detectLatest(ctx context.Context, client *http.Client, repo string) (*selfupdate.Release, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(releasesURL, repo), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("github API request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed reading github response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("github API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var releases []githubRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, false, fmt.Errorf("failed to decode github releases: %w", err)
	}
	var out []selfupdate.Release
	for _, r := range releases {
		if r.Draft || r.Prerelease {
			continue
		}
		v, ok := releaseVersion(r)
		if !ok {
			continue
		}
		out = append(out, selfupdate.Release{Version: v, AssetURL: pickAsset(r)})
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.GT(out[j].Version) })
	return &out[0], true, nil
}

// CheckForUpdates reports the latest release and, after confirmation,
// replaces the running binary and restarts it.
func CheckForUpdates(ctx context.Context) error {
	fmt.Printf("Current version: %s\n", Version)
	client := &http.Client{Timeout: 10 * time.Second}
	latest, found, err := detectLatest(ctx, client, Repo)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	if !found {
		fmt.Printf("No releases found for %s.\n", Repo)
		return nil
	}
	fmt.Printf("Latest version: %s\n", latest.Version)

	current, err := semver.Parse(strings.TrimPrefix(Version, "v"))
	if err != nil {
		fmt.Printf("warning: could not parse current version %q: %v\n", Version, err)
	} else if latest.Version.LTE(current) {
		fmt.Printf("You are already running the latest version: %s.\n", current)
		return nil
	}
	if latest.AssetURL == "" {
		fmt.Printf("A new version (%s) is available but there is no downloadable asset.\n", latest.Version)
		return nil
	}

	answer, err := PromptLine(fmt.Sprintf("A new version (%s) is available. Update now? (y/N): ", latest.Version))
	if err != nil {
		return fmt.Errorf("failed reading input: %w", err)
	}
	if ok, _ := parseBoolLike(answer); !ok {
		fmt.Println("Update cancelled.")
		return nil
	}

	fmt.Println("Updating...")
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not locate executable: %w", err)
	}
	if err := selfupdate.UpdateTo(latest.AssetURL, exe); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	// Exec only returns on error; then try a child process.
	argv := append([]string{exe}, os.Args[1:]...)
	if err := syscall.Exec(exe, argv, os.Environ()); err != nil {
		cmd := exec.Command(exe, os.Args[1:]...)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		if startErr := cmd.Start(); startErr != nil {
			fmt.Printf("Updated to version %s, but failed to restart automatically: %v\n", latest.Version, startErr)
			fmt.Println("Please restart the application manually.")
			return nil
		}
		os.Exit(0)
	}
	return nil
}
