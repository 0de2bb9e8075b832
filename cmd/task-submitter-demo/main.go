// Command task-submitter-demo wires an ActorTaskSubmitter end to end
// against an in-memory actor and RPC pool, to exercise the full lifecycle
// (connect, submit, complete, kill) without a real cluster.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Actexpler/ray/internal/config"
	"github.com/Actexpler/ray/internal/dependency"
	"github.com/Actexpler/ray/internal/finisher"
	"github.com/Actexpler/ray/internal/rpcclient"
	"github.com/Actexpler/ray/internal/submitter"
	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/clock"
	"github.com/Actexpler/ray/pkg/ids"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "task-submitter-demo",
	Short: "drives an ActorTaskSubmitter through a scripted actor lifecycle",
	Run: func(cmd *cobra.Command, args []string) {
		if err := run(); err != nil {
			log.Error(fmt.Sprintf("%+v", err))
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a submitter config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.SetLogrus(cfg.Logger)

	pool := rpcclient.NewFakePool()
	fin := finisher.NewRecording()
	clk := clock.System{}
	sub := submitter.New(pool, dependency.Immediate{}, fin, clk, cfg)

	actorID := ids.NewActorID()
	sub.AddActorQueueIfNotExists(actorID)
	sub.SetCallerCreationTimestamp(time.Now())

	addr := ids.Address{WorkerID: ids.NewWorkerID(), IP: "127.0.0.1", Port: 20000}
	log.WithField("actor_id", actorID).WithField("addr", addr).Info("connecting actor")
	sub.ConnectActor(actorID, addr, 0)

	client, err := pool.GetOrConnect(addr)
	if err != nil {
		return err
	}
	fakeClient := client.(*rpcclient.FakeClient)

	tasks := make([]wire.TaskSpec, 3)
	for i := range tasks {
		tasks[i] = wire.TaskSpec{
			TaskID:       ids.NewTaskID(),
			ActorID:      actorID,
			ActorCounter: int64(i),
			MethodName:   fmt.Sprintf("method_%d", i),
		}
		if err := sub.SubmitTask(tasks[i]); err != nil {
			return err
		}
	}

	for _, pushed := range fakeClient.Pushed() {
		log.WithField("task_id", pushed.Request.Task.TaskID).
			WithField("actor_counter", pushed.Request.Task.ActorCounter).
			Info("pushed task")
		fakeClient.Reply(pushed.Request.Task.TaskID, wire.PushTaskReply{})
	}

	log.WithField("actor_id", actorID).Info("requesting actor shutdown")
	sub.KillActor(actorID, true, false)

	for _, outcome := range fin.Outcomes {
		log.WithField("task_id", outcome.TaskID).
			WithField("completed", outcome.Completed).
			WithField("canceled", outcome.Canceled).
			WithField("kind", outcome.Kind).
			Info("task outcome")
	}

	return nil
}
