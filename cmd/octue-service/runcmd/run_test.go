/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runcmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/octue/octue-sdk-go/pkg/resources"
	"github.com/octue/octue-sdk-go/pkg/runner"
)

func TestRunCmdContents(t *testing.T) {
	runCmd := GetRunCmd()

	require.Equal(t, "run", runCmd.Use)
	require.Equal(t, "Run an analysis locally", runCmd.Short)
	require.NotNil(t, runCmd.RunE)
}

func TestRunCmdFlags(t *testing.T) {
	runCmd := GetRunCmd()

	checkFlagPropertiesCorrect(t, runCmd, configFlagName, configFlagShorthand, configFlagUsage)
	checkFlagPropertiesCorrect(t, runCmd, inputValuesFlagName, inputValuesFlagShorthand, inputValuesFlagUsage)
	checkFlagPropertiesCorrect(t, runCmd, inputManifestFlagName, "", inputManifestFlagUsage)
	checkFlagPropertiesCorrect(t, runCmd, outputValuesFlagName, outputValuesFlagShorthand, outputValuesFlagUsage)
	checkFlagPropertiesCorrect(t, runCmd, outputManifestFlagName, "", outputManifestFlagUsage)
	checkFlagPropertiesCorrect(t, runCmd, analysisIDFlagName, "", analysisIDFlagUsage)
}

func TestRunAnalysis(t *testing.T) {
	t.Run("Writes the output values of the analysis", func(t *testing.T) {
		dir := writeAnalysisFixture(t)
		outputPath := filepath.Join(dir, "output.json")

		app := func(_ context.Context, analysis *runner.Analysis) error {
			inputs := analysis.InputValues.(map[string]interface{})

			analysis.OutputValues = map[string]interface{}{
				"max_power":   inputs["wind_speed"].(float64) * 3,
				"analysis_id": analysis.ID,
			}

			return nil
		}

		runCmd := GetRunCmd(WithApp(app))
		runCmd.SetArgs([]string{
			"--" + configFlagName, filepath.Join(dir, "octue.yaml"),
			"--" + inputValuesFlagName, filepath.Join(dir, "input.json"),
			"--" + outputValuesFlagName, outputPath,
			"--" + analysisIDFlagName, "analysis1",
		})

		require.NoError(t, runCmd.Execute())

		data, err := os.ReadFile(outputPath)
		require.NoError(t, err)

		var outputValues map[string]interface{}

		require.NoError(t, json.Unmarshal(data, &outputValues))
		require.Equal(t, float64(30), outputValues["max_power"])
		require.Equal(t, "analysis1", outputValues["analysis_id"])
	})

	t.Run("Writes the output manifest of the analysis", func(t *testing.T) {
		dir := writeAnalysisFixture(t)
		manifestPath := filepath.Join(dir, "output-manifest.json")

		app := func(_ context.Context, analysis *runner.Analysis) error {
			analysis.OutputValues = map[string]interface{}{"max_power": 18.5}
			analysis.OutputManifest = resources.NewManifest(map[string]*resources.Dataset{
				"results": resources.NewDataset("results", "results",
					resources.NewDatafile("results/power.csv", []byte("time,power\n"))),
			})

			return nil
		}

		runCmd := GetRunCmd(WithApp(app))
		runCmd.SetArgs([]string{
			"--" + configFlagName, filepath.Join(dir, "octue.yaml"),
			"--" + inputValuesFlagName, filepath.Join(dir, "input.json"),
			"--" + outputValuesFlagName, filepath.Join(dir, "output.json"),
			"--" + outputManifestFlagName, manifestPath,
		})

		require.NoError(t, runCmd.Execute())

		data, err := os.ReadFile(manifestPath)
		require.NoError(t, err)

		manifest := &resources.Manifest{}

		require.NoError(t, json.Unmarshal(data, manifest))
		require.Contains(t, manifest.Datasets, "results")
		require.Len(t, manifest.Datasets["results"].Files, 1)
	})

	t.Run("Missing configuration file -> error", func(t *testing.T) {
		runCmd := GetRunCmd()
		runCmd.SetArgs([]string{
			"--" + configFlagName, filepath.Join(t.TempDir(), "missing.yaml"),
		})

		err := runCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "read configuration")
	})

	t.Run("Missing input values file -> error", func(t *testing.T) {
		dir := writeAnalysisFixture(t)

		runCmd := GetRunCmd()
		runCmd.SetArgs([]string{
			"--" + configFlagName, filepath.Join(dir, "octue.yaml"),
			"--" + inputValuesFlagName, filepath.Join(dir, "missing.json"),
		})

		err := runCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "read input values")
	})

	t.Run("Invalid input values JSON -> error", func(t *testing.T) {
		dir := writeAnalysisFixture(t)

		inputPath := filepath.Join(dir, "invalid.json")
		require.NoError(t, os.WriteFile(inputPath, []byte("{not json"), 0o600))

		runCmd := GetRunCmd()
		runCmd.SetArgs([]string{
			"--" + configFlagName, filepath.Join(dir, "octue.yaml"),
			"--" + inputValuesFlagName, inputPath,
		})

		err := runCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "parse input values")
	})

	t.Run("Input values that violate the twine -> error", func(t *testing.T) {
		dir := writeAnalysisFixture(t)

		inputPath := filepath.Join(dir, "bad-input.json")
		require.NoError(t, os.WriteFile(inputPath, []byte(`{"rotor_diameter": 5}`), 0o600))

		runCmd := GetRunCmd()
		runCmd.SetArgs([]string{
			"--" + configFlagName, filepath.Join(dir, "octue.yaml"),
			"--" + inputValuesFlagName, inputPath,
		})

		err := runCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "The input values do not conform to the twine")
	})
}

// writeAnalysisFixture lays out a service directory: a configuration file, a
// twine constraining the input and output values, and a valid input values
// file.
func writeAnalysisFixture(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	config := `
service:
  namespace: my-org
  name: wind-turbine
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "octue.yaml"), []byte(config), 0o600))

	twine := `{
  "input_values_schema": {"type": "object", "required": ["wind_speed"]},
  "output_values_schema": {"type": "object", "required": ["max_power"]}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "twine.json"), []byte(twine), 0o600))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.json"), []byte(`{"wind_speed": 10}`), 0o600))

	return dir
}

func checkFlagPropertiesCorrect(t *testing.T, cmd *cobra.Command, flagName, flagShorthand, flagUsage string) {
	t.Helper()

	flag := cmd.Flag(flagName)

	require.NotNil(t, flag)
	require.Equal(t, flagName, flag.Name)
	require.Equal(t, flagShorthand, flag.Shorthand)
	require.Equal(t, flagUsage, flag.Usage)
	require.Equal(t, "", flag.Value.String())
	require.Nil(t, flag.Annotations)
}
