/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/octue/octue-sdk-go/cmd/octue-service/startcmd"
	"github.com/octue/octue-sdk-go/internal/pkg/cmdutil"
	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/config"
	"github.com/octue/octue-sdk-go/pkg/resources"
	"github.com/octue/octue-sdk-go/pkg/runner"
	"github.com/octue/octue-sdk-go/pkg/service"
)

var logger = log.New("octue-service")

const (
	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	configFlagName      = "config"
	configEnvKey        = "OCTUE_SERVICE_CONFIG"
	configFlagShorthand = "c"
	configFlagUsage     = "Path of the service configuration file. Defaults to " + config.DefaultPath +
		" in the working directory. " + commonEnvVarUsageText + configEnvKey

	inputValuesFlagName      = "input-values"
	inputValuesEnvKey        = "OCTUE_INPUT_VALUES"
	inputValuesFlagShorthand = "i"
	inputValuesFlagUsage     = "Path of a JSON file holding the input values for the analysis. " +
		commonEnvVarUsageText + inputValuesEnvKey

	inputManifestFlagName  = "input-manifest"
	inputManifestEnvKey    = "OCTUE_INPUT_MANIFEST"
	inputManifestFlagUsage = "Path of a JSON file holding the input manifest for the analysis. " +
		commonEnvVarUsageText + inputManifestEnvKey

	outputValuesFlagName      = "output-values"
	outputValuesEnvKey        = "OCTUE_OUTPUT_VALUES"
	outputValuesFlagShorthand = "o"
	outputValuesFlagUsage     = "Path to write the analysis's output values to. Defaults to standard output. " +
		commonEnvVarUsageText + outputValuesEnvKey

	outputManifestFlagName  = "output-manifest"
	outputManifestEnvKey    = "OCTUE_OUTPUT_MANIFEST"
	outputManifestFlagUsage = "Path to write the analysis's output manifest to, if it produces one. " +
		commonEnvVarUsageText + outputManifestEnvKey

	analysisIDFlagName  = "analysis-id"
	analysisIDEnvKey    = "OCTUE_ANALYSIS_ID"
	analysisIDFlagUsage = "Identifier to run the analysis under. Defaults to a new UUID. " +
		commonEnvVarUsageText + analysisIDEnvKey
)

type runParameters struct {
	configPath         string
	logLevel           string
	inputValuesPath    string
	inputManifestPath  string
	outputValuesPath   string
	outputManifestPath string
	analysisID         string

	app runner.AppFunc
}

type options struct {
	app runner.AppFunc
}

// Opt customizes the run command.
type Opt func(opts *options)

// WithApp sets the app run on the local input data. Binaries built on this
// command compile their app in through this option.
func WithApp(app runner.AppFunc) Opt {
	return func(opts *options) {
		opts.app = app
	}
}

// GetRunCmd returns the Cobra run command.
func GetRunCmd(opts ...Opt) *cobra.Command {
	runCmd := createRunCmd(opts...)

	createFlags(runCmd)

	return runCmd
}

func createRunCmd(opts ...Opt) *cobra.Command {
	options := &options{app: startcmd.DefaultApp}

	for _, opt := range opts {
		opt(options)
	}

	return &cobra.Command{
		Use:   "run",
		Short: "Run an analysis locally",
		Long:  "Run the app once on local input data and write out the analysis's outputs, without a broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getRunParameters(cmd)
			if err != nil {
				return err
			}

			parameters.app = options.app

			return runAnalysis(parameters)
		},
	}
}

func getRunParameters(cmd *cobra.Command) (*runParameters, error) {
	configPath, err := cmdutil.GetUserSetVarFromString(cmd, configFlagName, configEnvKey, true)
	if err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = config.DefaultPath
	}

	logLevel, err := cmdutil.GetUserSetVarFromString(cmd, startcmd.LogLevelFlagName, startcmd.LogLevelEnvKey, true)
	if err != nil {
		return nil, err
	}

	inputValuesPath, err := cmdutil.GetUserSetVarFromString(cmd, inputValuesFlagName, inputValuesEnvKey, true)
	if err != nil {
		return nil, err
	}

	inputManifestPath, err := cmdutil.GetUserSetVarFromString(cmd, inputManifestFlagName, inputManifestEnvKey, true)
	if err != nil {
		return nil, err
	}

	outputValuesPath, err := cmdutil.GetUserSetVarFromString(cmd, outputValuesFlagName, outputValuesEnvKey, true)
	if err != nil {
		return nil, err
	}

	outputManifestPath, err := cmdutil.GetUserSetVarFromString(cmd, outputManifestFlagName,
		outputManifestEnvKey, true)
	if err != nil {
		return nil, err
	}

	analysisID, err := cmdutil.GetUserSetVarFromString(cmd, analysisIDFlagName, analysisIDEnvKey, true)
	if err != nil {
		return nil, err
	}

	return &runParameters{
		configPath:         configPath,
		logLevel:           logLevel,
		inputValuesPath:    inputValuesPath,
		inputManifestPath:  inputManifestPath,
		outputValuesPath:   outputValuesPath,
		outputManifestPath: outputManifestPath,
		analysisID:         analysisID,
	}, nil
}

func createFlags(runCmd *cobra.Command) {
	runCmd.Flags().StringP(configFlagName, configFlagShorthand, "", configFlagUsage)
	runCmd.Flags().StringP(startcmd.LogLevelFlagName, startcmd.LogLevelFlagShorthand, "", startcmd.LogLevelFlagUsage)
	runCmd.Flags().StringP(inputValuesFlagName, inputValuesFlagShorthand, "", inputValuesFlagUsage)
	runCmd.Flags().StringP(inputManifestFlagName, "", "", inputManifestFlagUsage)
	runCmd.Flags().StringP(outputValuesFlagName, outputValuesFlagShorthand, "", outputValuesFlagUsage)
	runCmd.Flags().StringP(outputManifestFlagName, "", "", outputManifestFlagUsage)
	runCmd.Flags().StringP(analysisIDFlagName, "", "", analysisIDFlagUsage)
}

func runAnalysis(parameters *runParameters) error {
	if parameters.logLevel != "" {
		startcmd.SetLogLevels(logger, parameters.logLevel)
	}

	cfg, err := config.Load(parameters.configPath)
	if err != nil {
		return err
	}

	tw, err := startcmd.LoadTwine(cfg)
	if err != nil {
		return err
	}

	r, err := runner.New(parameters.app, runner.WithTwine(tw),
		runner.WithConfigurationValues(cfg.App.ConfigurationValues))
	if err != nil {
		return err
	}

	req, err := buildRequest(parameters)
	if err != nil {
		return err
	}

	logger.Info("Running analysis.", logfields.WithAnalysisID(req.QuestionUUID),
		logfields.WithServiceID(cfg.ServiceID()))

	resp, err := r.Run(context.Background(), req)
	if err != nil {
		return err
	}

	return writeOutputs(resp, parameters)
}

func buildRequest(parameters *runParameters) (*service.Request, error) {
	analysisID := parameters.analysisID
	if analysisID == "" {
		analysisID = uuid.NewString()
	}

	req := &service.Request{QuestionUUID: analysisID}

	if parameters.inputValuesPath != "" {
		data, err := os.ReadFile(parameters.inputValuesPath)
		if err != nil {
			return nil, fmt.Errorf("read input values: %w", err)
		}

		if err := json.Unmarshal(data, &req.InputValues); err != nil {
			return nil, fmt.Errorf("parse input values: %w", err)
		}
	}

	if parameters.inputManifestPath != "" {
		data, err := os.ReadFile(parameters.inputManifestPath)
		if err != nil {
			return nil, fmt.Errorf("read input manifest: %w", err)
		}

		manifest := &resources.Manifest{}

		if err := json.Unmarshal(data, manifest); err != nil {
			return nil, fmt.Errorf("parse input manifest: %w", err)
		}

		req.InputManifest = manifest
	}

	return req, nil
}

func writeOutputs(resp *service.Response, parameters *runParameters) error {
	valuesJSON, err := json.MarshalIndent(resp.OutputValues, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output values: %w", err)
	}

	if parameters.outputValuesPath == "" {
		fmt.Println(string(valuesJSON))
	} else {
		if err := os.WriteFile(parameters.outputValuesPath, valuesJSON, 0o600); err != nil {
			return fmt.Errorf("write output values: %w", err)
		}

		logger.Info("Wrote output values.", logfields.WithPath(parameters.outputValuesPath))
	}

	if parameters.outputManifestPath == "" {
		return nil
	}

	if resp.OutputManifest == nil {
		logger.Info("The analysis produced no output manifest.")

		return nil
	}

	manifestJSON, err := json.MarshalIndent(resp.OutputManifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output manifest: %w", err)
	}

	if err := os.WriteFile(parameters.outputManifestPath, manifestJSON, 0o600); err != nil {
		return fmt.Errorf("write output manifest: %w", err)
	}

	logger.Info("Wrote output manifest.", logfields.WithPath(parameters.outputManifestPath))

	return nil
}
