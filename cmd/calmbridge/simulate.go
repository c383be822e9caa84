package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/calmbridge/mediator/pkg/narrative"
	"github.com/calmbridge/mediator/pkg/orchestrator"
	"github.com/calmbridge/mediator/pkg/patterns"
)

func newSimulateCommand(configPath *string) *cobra.Command {
	var (
		roomID   string
		sender   string
		receiver string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Feed messages through the mediation pipeline interactively",
		Long: strings.TrimSpace(`Read lines from the terminal, run each through context synthesis as if it
were an outgoing message, and print what the coaching prompt would see.

Type /swap to switch sender and receiver, /state for room state, /quit to exit.`),
		Example: "  calmbridge simulate --room demo --sender alice --receiver bob",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			return runSimulation(rt, roomID, sender, receiver)
		},
	}

	cmd.Flags().StringVarP(&roomID, "room", "r", "sim-room", "Room id for the simulated conversation")
	cmd.Flags().StringVar(&sender, "sender", "parent-a", "Sender id")
	cmd.Flags().StringVar(&receiver, "receiver", "parent-b", "Receiver id")
	return cmd
}

func runSimulation(rt *runtime, roomID, sender, receiver string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", sender),
		HistoryFile:     filepath.Join(os.TempDir(), ".calmbridge_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Simulating room %s (%s -> %s). /quit to exit.\n", roomID, sender, receiver)

	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		switch {
		case input == "":
			continue
		case input == "/quit" || input == "/exit":
			return nil
		case input == "/swap":
			sender, receiver = receiver, sender
			rl.SetPrompt(fmt.Sprintf("%s> ", sender))
			fmt.Printf("Now sending as %s.\n", sender)
			continue
		case input == "/state":
			printRoomState(rt, roomID)
			continue
		}

		result := rt.orch.BuildContext(ctx, input, sender, receiver, roomID)
		printResult(result)

		// Persist the message and learn from it, like the post-send path.
		msgID := uuid.NewString()
		if err := rt.store.InsertMessage(ctx, narrative.Message{
			ID: msgID, RoomID: roomID, SenderID: sender, Text: input,
		}); err != nil {
			rt.logger.Warn("insert simulated message failed", "error", err)
		}
		rt.orch.UpdateFromMessage(msgID, input, sender, roomID)
	}
}

func printResult(result orchestrator.ContextResult) {
	if result.Patterns.Any() {
		var names []string
		for name, hit := range result.Patterns {
			if hit {
				names = append(names, patterns.Label(name))
			}
		}
		fmt.Printf("  patterns: %s\n", strings.Join(names, "; "))
	}
	switch {
	case result.TimedOut:
		fmt.Println("  (context build timed out)")
	case result.Limited:
		fmt.Println("  (rate limited: pattern-only context)")
	case result.Cached:
		fmt.Println("  (served from cache)")
	}
	if !result.HasContext {
		fmt.Println("  no stored context for this message")
		return
	}
	fmt.Println("  --- prompt context ---")
	for _, l := range strings.Split(result.Synthesis.PromptSection, "\n") {
		fmt.Printf("  %s\n", l)
	}
}

func printRoomState(rt *runtime, roomID string) {
	room := rt.orch.Registry().Room(roomID)
	esc := room.Escalation()
	fmt.Printf("  escalation score: %d\n", esc.Score)
	for name, count := range esc.PatternCounts {
		fmt.Printf("    %s: %d\n", name, count)
	}
	fmt.Printf("  intervention threshold: %d\n", room.Policy().InterventionThreshold)
	fmt.Printf("  recent messages: %d\n", len(room.RecentMessages()))
	fmt.Printf("  dropped background updates: %d\n", rt.orch.Dropped())

	profiles, err := rt.store.RoomProfiles(context.Background(), roomID)
	if err != nil {
		fmt.Printf("  narrative profiles: error: %v\n", err)
		return
	}
	fmt.Printf("  narrative profiles: %d\n", len(profiles))
	for _, p := range profiles {
		fmt.Printf("    %s: %d messages analyzed, %d known triggers\n",
			p.UserID, p.MessageCountAnalyzed, len(p.KnownTriggers))
	}
}
