package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

func TestAnalyzeDemoPrintsReadyStatus(t *testing.T) {
	t.Setenv("FEEDBACK_LOGGING_DEVELOPMENT", "false")
	t.Chdir(t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"analyze", "https://www.linkedin.com/in/ada", "--demo", "--demo-step", "0", "--email", "ada@example.com"})
	require.NoError(t, root.Execute())

	var st feedback.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	assert.Equal(t, feedback.ViewReady, st.View)
	require.NotNil(t, st.Profile)
	assert.Equal(t, 75, st.Profile.CompletionScore)
	assert.Len(t, st.Profile.SuggestedImprovements, 2)
}

func TestAnalyzeRequiresURL(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"analyze"})
	require.Error(t, root.Execute())
}

func TestDemoPipelineFillsEverySection(t *testing.T) {
	d := newDemoPipeline(0, zap.NewNop())
	id, err := d.Store().Insert(t.Context(), "https://www.linkedin.com/in/ada", nil)
	require.NoError(t, err)
	_, err = d.Notifier().Notify(t.Context(), feedback.Notification{RecordID: id})
	require.NoError(t, err)
	d.Wait()

	rec, _, err := d.Store().SelectByID(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, feedback.AllSectionsFilled(rec))
}
