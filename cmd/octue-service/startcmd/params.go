/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/octue/octue-sdk-go/internal/pkg/cmdutil"
	"github.com/octue/octue-sdk-go/pkg/config"
	"github.com/octue/octue-sdk-go/pkg/runner"
)

const (
	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	configFlagName      = "config"
	configEnvKey        = "OCTUE_SERVICE_CONFIG"
	configFlagShorthand = "c"
	configFlagUsage     = "Path of the service configuration file. Defaults to " + config.DefaultPath +
		" in the working directory. " + commonEnvVarUsageText + configEnvKey

	timeoutFlagName  = "timeout"
	timeoutEnvKey    = "OCTUE_SERVICE_TIMEOUT"
	timeoutFlagUsage = "Maximum time to serve for, e.g. 30m or 2h. The service stops gracefully once the " +
		"timeout passes. Defaults to serving until interrupted. " + commonEnvVarUsageText + timeoutEnvKey

	cleanupOnExitFlagName  = "cleanup-on-exit"
	cleanupOnExitEnvKey    = "OCTUE_SERVICE_CLEANUP_ON_EXIT"
	cleanupOnExitFlagUsage = "Delete the service's topic and subscription from the broker when it stops " +
		"(true or false). Defaults to false. " + commonEnvVarUsageText + cleanupOnExitEnvKey

	subscriberPoolFlagName  = "subscriber-pool-size"
	subscriberPoolEnvKey    = "OCTUE_SERVICE_SUBSCRIBER_POOL_SIZE"
	subscriberPoolFlagUsage = "Number of questions to handle concurrently. Defaults to the broker " +
		"transport's own concurrency. " + commonEnvVarUsageText + subscriberPoolEnvKey

	apiTokenFlagName  = "api-token"                //nolint:gosec
	apiTokenEnvKey    = "OCTUE_SERVICE_API_TOKEN"  //nolint:gosec
	apiTokenFlagUsage = "Bearer token protecting the mutating HTTP endpoints. When empty, the endpoints " +
		"are open. " + commonEnvVarUsageText + apiTokenEnvKey

	maintenanceFlagName  = "maintenance"
	maintenanceEnvKey    = "OCTUE_SERVICE_MAINTENANCE_MODE"
	maintenanceFlagUsage = "Start in maintenance mode, in which HTTP endpoints respond with 503 " +
		"(true or false). Defaults to false. " + commonEnvVarUsageText + maintenanceEnvKey

	tlsCACertsFlagName  = "tls-ca-certs"
	tlsCACertsEnvKey    = "OCTUE_SERVICE_TLS_CACERTS"
	tlsCACertsFlagUsage = "Comma-separated list of CA certificate PEM files trusted for broker connections. " +
		"Overrides the tls.ca_certs list in the configuration file. " + commonEnvVarUsageText + tlsCACertsEnvKey
)

type serviceParameters struct {
	configPath         string
	logLevel           string
	timeout            time.Duration
	cleanupOnExit      bool
	subscriberPoolSize int
	apiToken           string
	maintenanceMode    bool
	tlsCACerts         []string

	app runner.AppFunc
}

//nolint:cyclop
func getServiceParameters(cmd *cobra.Command) (*serviceParameters, error) {
	configPath, err := cmdutil.GetUserSetVarFromString(cmd, configFlagName, configEnvKey, true)
	if err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = config.DefaultPath
	}

	logLevel, err := cmdutil.GetUserSetVarFromString(cmd, LogLevelFlagName, LogLevelEnvKey, true)
	if err != nil {
		return nil, err
	}

	timeout, err := cmdutil.GetDuration(cmd, timeoutFlagName, timeoutEnvKey, 0)
	if err != nil {
		return nil, err
	}

	cleanupOnExit, err := cmdutil.GetBool(cmd, cleanupOnExitFlagName, cleanupOnExitEnvKey, false)
	if err != nil {
		return nil, err
	}

	subscriberPoolSize, err := cmdutil.GetInt(cmd, subscriberPoolFlagName, subscriberPoolEnvKey, 0)
	if err != nil {
		return nil, err
	}

	apiToken, err := cmdutil.GetUserSetVarFromString(cmd, apiTokenFlagName, apiTokenEnvKey, true)
	if err != nil {
		return nil, err
	}

	maintenanceMode, err := cmdutil.GetBool(cmd, maintenanceFlagName, maintenanceEnvKey, false)
	if err != nil {
		return nil, err
	}

	tlsCACerts := cmdutil.GetUserSetOptionalVarFromArrayString(cmd, tlsCACertsFlagName, tlsCACertsEnvKey)

	return &serviceParameters{
		configPath:         configPath,
		logLevel:           logLevel,
		timeout:            timeout,
		cleanupOnExit:      cleanupOnExit,
		subscriberPoolSize: subscriberPoolSize,
		apiToken:           apiToken,
		maintenanceMode:    maintenanceMode,
		tlsCACerts:         tlsCACerts,
	}, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(configFlagName, configFlagShorthand, "", configFlagUsage)
	startCmd.Flags().StringP(LogLevelFlagName, LogLevelFlagShorthand, "", LogLevelFlagUsage)
	startCmd.Flags().StringP(timeoutFlagName, "", "", timeoutFlagUsage)
	startCmd.Flags().StringP(cleanupOnExitFlagName, "", "", cleanupOnExitFlagUsage)
	startCmd.Flags().StringP(subscriberPoolFlagName, "", "", subscriberPoolFlagUsage)
	startCmd.Flags().StringP(apiTokenFlagName, "", "", apiTokenFlagUsage)
	startCmd.Flags().StringP(maintenanceFlagName, "", "", maintenanceFlagUsage)
	startCmd.Flags().StringArrayP(tlsCACertsFlagName, "", nil, tlsCACertsFlagUsage)
}
