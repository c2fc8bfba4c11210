// Package autodetect derives configuration defaults from the CI system the
// tool runs in.
package autodetect

import (
	"strconv"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/application"
)

// Detector reads CI variables through Getenv.
type Detector struct {
	Getenv func(string) string
}

// Detect returns flattened config keys ("github.owner", "pull_request", ...)
// inferred from GitHub Actions, GitLab CI or Bitbucket Pipelines variables.
// Platform tokens are picked up from their conventional variables even
// outside CI.
func (d Detector) Detect() map[string]any {
	env := d.Getenv
	out := map[string]any{}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}

	set("github.token", env("GITHUB_TOKEN"))
	set("gitlab.token", firstOf(env("GITLAB_TOKEN"), env("CI_JOB_TOKEN")))
	set("bitbucket.token", env("BITBUCKET_TOKEN"))

	switch {
	case env("GITHUB_ACTIONS") == "true":
		out["platform"] = string(application.PlatformGitHub)
		if owner, repo, ok := strings.Cut(env("GITHUB_REPOSITORY"), "/"); ok {
			set("github.owner", owner)
			set("github.repository", repo)
		}
		set("github.api_url", env("GITHUB_API_URL"))
		setPR(out, pullFromRef(env("GITHUB_REF")))
		setBase(out, env("GITHUB_BASE_REF"))
		setPrefix(out, env("GITHUB_WORKSPACE"))
	case env("GITLAB_CI") == "true":
		out["platform"] = string(application.PlatformGitLab)
		set("gitlab.project", env("CI_PROJECT_ID"))
		set("gitlab.base_url", env("CI_SERVER_URL"))
		setPR(out, env("CI_MERGE_REQUEST_IID"))
		setBase(out, env("CI_MERGE_REQUEST_TARGET_BRANCH_NAME"))
		setPrefix(out, env("CI_PROJECT_DIR"))
	case env("BITBUCKET_BUILD_NUMBER") != "":
		out["platform"] = string(application.PlatformBitbucket)
		set("bitbucket.workspace", env("BITBUCKET_WORKSPACE"))
		set("bitbucket.repository", env("BITBUCKET_REPO_SLUG"))
		setPR(out, env("BITBUCKET_PR_ID"))
		setBase(out, env("BITBUCKET_PR_DESTINATION_BRANCH"))
		setPrefix(out, env("BITBUCKET_CLONE_DIR"))
	}
	return out
}

// pullFromRef extracts 42 from "refs/pull/42/merge".
func pullFromRef(ref string) string {
	rest, ok := strings.CutPrefix(ref, "refs/pull/")
	if !ok {
		return ""
	}
	number, _, _ := strings.Cut(rest, "/")
	return number
}

func setPR(out map[string]any, value string) {
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		out["pull_request"] = n
	}
}

func setBase(out map[string]any, branch string) {
	if branch != "" {
		out["base"] = "origin/" + branch
	}
}

func setPrefix(out map[string]any, dir string) {
	if dir != "" {
		out["strip_prefixes"] = []string{dir}
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
