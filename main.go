// symloco trains mirror-symmetric locomotion policies with PPO over
// vectorized physics environments.
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/symloco/symloco/symmetry"
	"github.com/symloco/symloco/trainer"
)

var (
	configPath string
	envName    string
	methodName string
	numFrames  int
	processes  int
	seed       uint64
	saveDir    string

	rootCmd = &cobra.Command{
		Use:   "symloco",
		Short: "Train symmetric locomotion policies with PPO",
		Long: `symloco trains locomotion policies with proximal policy
optimization over vectorized physics environments, optionally
exploiting the left-right symmetry of the task through mirrored
data, an auxiliary mirror loss, or a symmetric network
architecture.`,
	}

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Run a training run described by a config file and flags",
		RunE:  runTrain,
	}

	envsCmd = &cobra.Command{
		Use:   "envs",
		Short: "List the available environments",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range trainer.EnvNames() {
				fmt.Println(name)
			}
		},
	}
)

func init() {
	trainCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"JSON config file, layered over the defaults")
	trainCmd.Flags().StringVarP(&envName, "env", "e", "",
		"environment to train on")
	trainCmd.Flags().StringVarP(&methodName, "method", "m", "",
		"mirror symmetry method (none, loss, traj, net, net2)")
	trainCmd.Flags().IntVarP(&numFrames, "frames", "f", 0,
		"total environment frames to train for")
	trainCmd.Flags().IntVarP(&processes, "processes", "p", 0,
		"number of parallel environments")
	trainCmd.Flags().Uint64VarP(&seed, "seed", "s", 0,
		"random seed for environments and model")
	trainCmd.Flags().StringVarP(&saveDir, "save-dir", "d", "",
		"directory for checkpoints and logs")

	rootCmd.AddCommand(trainCmd, envsCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	config := trainer.DefaultConfig()
	if configPath != "" {
		var err error
		config, err = trainer.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}

	// Flags override the config file
	if envName != "" {
		config.Env = envName
	}
	if methodName != "" {
		method, err := symmetry.ParseMethod(methodName)
		if err != nil {
			return err
		}
		config.Method = method
	}
	if numFrames > 0 {
		config.NumFrames = numFrames
	}
	if processes > 0 {
		config.NumProcesses = processes
	}
	if cmd.Flags().Changed("seed") {
		config.Seed = seed
	}
	if saveDir != "" {
		config.SaveDir = saveDir
	}

	t, err := trainer.NewFromConfig(config)
	if err != nil {
		return err
	}

	fmt.Printf("training %v with method %v for %v frames over %v "+
		"processes\n", config.Env, config.Method, config.NumFrames,
		config.NumProcesses)
	return t.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
