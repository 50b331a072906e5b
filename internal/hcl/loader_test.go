package hcl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowline/internal/workflow"
)

const fullDocument = `
workflow "release" {
  on "push" {
    branches = ["main", "release/*"]
    paths    = ["src/**"]
  }

  on "manual" {
    input "version" {
      required = true
    }
    input "channel" {
      default = "stable"
    }
  }

  concurrency {
    group              = "release-train"
    cancel_in_progress = true
  }

  job "build" {
    runs_on = "linux"

    matrix {
      axis "go" {
        values = ["1.23", "1.24"]
      }
    }

    step "compile" {
      run     = "make build GO=${matrix.go}"
      timeout = "5m"
    }
  }

  job "test" {
    runs_on = "linux"
    needs   = ["build"]
    timeout = "30m"

    step "unit" {
      run = "make test"
    }
    step "flaky" {
      run               = "make integration"
      continue_on_error = true
    }
  }

  job "publish" {
    runs_on = "linux"
    needs   = ["test"]
    if      = event.ref == "main"

    step "upload" {
      uses = "http_request"
      with {
        url    = "https://releases.example.com"
        method = "POST"
      }
    }
  }

  job "report" {
    runs_on    = "linux"
    needs      = ["publish"]
    always_run = true

    step "notify" {
      run = "make notify"
    }
  }
}
`

func TestParseFullDocument(t *testing.T) {
	def, err := NewLoader().Parse("release.hcl", []byte(fullDocument))
	require.NoError(t, err)

	assert.Equal(t, "release", def.Name)
	assert.Equal(t, []string{"build", "test", "publish", "report"}, def.JobOrder)

	require.Len(t, def.Triggers, 2)
	push := def.Triggers[0]
	assert.Equal(t, workflow.EventPush, push.Kind)
	assert.Equal(t, []string{"main", "release/*"}, push.Branches)
	assert.Equal(t, []string{"src/**"}, push.Paths)

	manual := def.Triggers[1]
	assert.Equal(t, workflow.EventManual, manual.Kind)
	assert.Equal(t, []string{"version", "channel"}, manual.InputOrder)
	assert.True(t, manual.Inputs["version"].Required)
	require.NotNil(t, manual.Inputs["channel"].Default)
	assert.Equal(t, "stable", *manual.Inputs["channel"].Default)

	require.NotNil(t, def.Concurrency)
	assert.Equal(t, "release-train", def.Concurrency.Group)
	assert.True(t, def.Concurrency.CancelInProgress)

	build := def.Jobs["build"]
	require.NotNil(t, build.Matrix)
	assert.True(t, build.Matrix.FailFast, "fail_fast defaults to true")
	require.Len(t, build.Matrix.Axes, 1)
	assert.Equal(t, []string{"1.23", "1.24"}, build.Matrix.Axes[0].Values)
	require.Len(t, build.Steps, 1)
	assert.Equal(t, workflow.StepRunKind, build.Steps[0].Kind)
	assert.Equal(t, 5*time.Minute, build.Steps[0].Timeout)

	test := def.Jobs["test"]
	assert.Equal(t, []string{"build"}, test.Needs)
	assert.Equal(t, 30*time.Minute, test.Timeout)
	require.Len(t, test.Steps, 2)
	assert.False(t, test.Steps[0].ContinueOnError)
	assert.True(t, test.Steps[1].ContinueOnError)

	publish := def.Jobs["publish"]
	require.NotNil(t, publish.If)
	assert.NotEmpty(t, publish.IfSrc)
	require.Len(t, publish.Steps, 1)
	upload := publish.Steps[0]
	assert.Equal(t, workflow.StepUsesKind, upload.Kind)
	assert.Equal(t, "http_request", upload.Uses)
	assert.Contains(t, upload.With, "url")
	assert.Contains(t, upload.With, "method")
	assert.Equal(t, `"POST"`, upload.WithSrc["method"])

	assert.True(t, def.Jobs["report"].AlwaysRun)
}

func TestAbsentOptionalExpressionsAreNil(t *testing.T) {
	// gohcl decodes omitted hcl.Expression attributes as synthetic null
	// expressions rather than nil interfaces. The loader must normalize
	// them, or uses-only steps would be rejected and omitted conditions
	// would evaluate to null instead of passing.
	src := `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "cmd" {
      run = "true"
    }
    step "action" {
      uses = "echo"
    }
  }
}`
	def, err := NewLoader().Parse("plain.hcl", []byte(src))
	require.NoError(t, err)

	job := def.Jobs["a"]
	assert.Nil(t, job.If, "a job without an if attribute has no condition")
	assert.Empty(t, job.IfSrc)

	cmd := job.Steps[0]
	assert.Equal(t, workflow.StepRunKind, cmd.Kind)
	require.NotNil(t, cmd.Run)
	assert.Nil(t, cmd.If)

	action := job.Steps[1]
	assert.Equal(t, workflow.StepUsesKind, action.Kind)
	assert.Equal(t, "echo", action.Uses)
	assert.Nil(t, action.Run, "a uses step carries no run expression")
	assert.Empty(t, action.RunSrc)
}

func TestParseCachesByContent(t *testing.T) {
	loader := NewLoader()
	first, err := loader.Parse("a.hcl", []byte(fullDocument))
	require.NoError(t, err)

	// Ristretto admits asynchronously; give the buffered write a moment.
	require.Eventually(t, func() bool {
		second, err := loader.Parse("b.hcl", []byte(fullDocument))
		require.NoError(t, err)
		return first == second
	}, time.Second, 10*time.Millisecond, "identical documents should share a cached definition")
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name   string
		src    string
		detail string
	}{
		{
			name: "no trigger",
			src: `
workflow "w" {
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "at least one trigger is required",
		},
		{
			name: "no jobs",
			src: `
workflow "w" {
  on "push" {}
}`,
			detail: "at least one job is required",
		},
		{
			name: "unknown trigger kind",
			src: `
workflow "w" {
  on "merge_group" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "unknown trigger kind",
		},
		{
			name: "cron on push trigger",
			src: `
workflow "w" {
  on "push" {
    cron = "* * * * *"
  }
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "cron is only valid on schedule triggers",
		},
		{
			name: "schedule without cron",
			src: `
workflow "w" {
  on "schedule" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "schedule triggers require a cron expression",
		},
		{
			name: "invalid cron expression",
			src: `
workflow "w" {
  on "schedule" {
    cron = "often"
  }
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "invalid cron expression",
		},
		{
			name: "inputs on push trigger",
			src: `
workflow "w" {
  on "push" {
    input "x" {}
  }
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "input blocks are only valid on manual triggers",
		},
		{
			name: "missing runs_on",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "runs_on is required",
		},
		{
			name: "job without steps",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
  }
}`,
			detail: "a job requires at least one step",
		},
		{
			name: "step with run and uses",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run  = "true"
      uses = "echo"
    }
  }
}`,
			detail: "exactly one of run or uses",
		},
		{
			name: "step with neither run nor uses",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {}
  }
}`,
			detail: "exactly one of run or uses",
		},
		{
			name: "with on a run step",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
      with {
        x = "1"
      }
    }
  }
}`,
			detail: "with blocks are only valid on uses steps",
		},
		{
			name: "duplicate step name",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
    step "s" {
      run = "false"
    }
  }
}`,
			detail: "duplicate step name",
		},
		{
			name: "duplicate job id",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "duplicate job id",
		},
		{
			name: "negative timeout",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    timeout = "-1m"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "timeout must be a positive duration",
		},
		{
			name: "matrix without axes",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    matrix {}
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "a matrix requires at least one axis",
		},
		{
			name: "axis without values",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    matrix {
      axis "go" {
        values = []
      }
    }
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "an axis requires at least one value",
		},
		{
			name: "unknown needs reference",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    needs   = ["ghost"]
    step "s" {
      run = "true"
    }
  }
}`,
			detail: `unknown job "ghost"`,
		},
		{
			name: "two workflow blocks",
			src: `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}
workflow "v" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`,
			detail: "exactly one workflow block",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader().Parse("bad.hcl", []byte(tc.src))
			require.Error(t, err)

			var schemaErr *workflow.SchemaError
			require.ErrorAs(t, err, &schemaErr, "expected a schema error, got %v", err)
			assert.Contains(t, schemaErr.Detail, tc.detail)
		})
	}
}

func TestParseRejectsDependencyCycle(t *testing.T) {
	t.Run("three-job cycle", func(t *testing.T) {
		src := `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    needs   = ["c"]
    step "s" {
      run = "true"
    }
  }
  job "b" {
    runs_on = "linux"
    needs   = ["a"]
    step "s" {
      run = "true"
    }
  }
  job "c" {
    runs_on = "linux"
    needs   = ["b"]
    step "s" {
      run = "true"
    }
  }
}`
		_, err := NewLoader().Parse("cycle.hcl", []byte(src))
		require.Error(t, err)

		var cycleErr *workflow.CyclicDependencyError
		require.ErrorAs(t, err, &cycleErr)
		assert.Contains(t, []string{"a", "b", "c"}, cycleErr.JobID)
	})

	t.Run("self-referential needs", func(t *testing.T) {
		src := `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    needs   = ["a"]
    step "s" {
      run = "true"
    }
  }
}`
		_, err := NewLoader().Parse("selfcycle.hcl", []byte(src))
		require.Error(t, err)

		var cycleErr *workflow.CyclicDependencyError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, "a", cycleErr.JobID)
	})
}

func TestLoadDir(t *testing.T) {
	t.Run("loads every document recursively", func(t *testing.T) {
		dir := t.TempDir()
		writeDoc(t, dir, "one.hcl", docNamed("one"))
		writeDoc(t, dir, "nested/two.hcl", docNamed("two"))
		writeDoc(t, dir, "ignored.txt", "not hcl")

		defs, err := NewLoader().LoadDir(context.Background(), dir)
		require.NoError(t, err)
		require.Len(t, defs, 2)

		names := []string{defs[0].Name, defs[1].Name}
		assert.ElementsMatch(t, []string{"one", "two"}, names)
	})

	t.Run("rejects duplicate workflow names", func(t *testing.T) {
		dir := t.TempDir()
		writeDoc(t, dir, "a.hcl", docNamed("same"))
		writeDoc(t, dir, "b.hcl", docNamed("same"))

		_, err := NewLoader().LoadDir(context.Background(), dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `workflow "same" defined in both`)
	})
}
