package kairo

import (
	"errors"
	"testing"
	"time"
)

func TestInteractionValidate(t *testing.T) {
	t.Parallel()

	valid := func(mutate func(*Interaction)) *Interaction {
		interaction := &Interaction{
			ID:          "i-1",
			Kind:        InteractionKindCommand,
			CommandName: "ping",
			User:        Actor{ID: "u-1"},
			CreatedAt:   time.Unix(100, 0),
		}
		if mutate != nil {
			mutate(interaction)
		}
		return interaction
	}

	tests := []struct {
		name        string
		interaction *Interaction
		wantErr     bool
	}{
		{name: "valid command", interaction: valid(nil)},
		{name: "nil interaction", interaction: nil, wantErr: true},
		{name: "missing id", interaction: valid(func(i *Interaction) { i.ID = "" }), wantErr: true},
		{name: "missing user", interaction: valid(func(i *Interaction) { i.User.ID = "" }), wantErr: true},
		{name: "missing timestamp", interaction: valid(func(i *Interaction) { i.CreatedAt = time.Time{} }), wantErr: true},
		{name: "command without name", interaction: valid(func(i *Interaction) { i.CommandName = "" }), wantErr: true},
		{
			name: "button with custom id",
			interaction: valid(func(i *Interaction) {
				i.Kind = InteractionKindButton
				i.CommandName = ""
				i.CustomID = "vote_yes"
			}),
		},
		{
			name: "modal without custom id",
			interaction: valid(func(i *Interaction) {
				i.Kind = InteractionKindModal
			}),
			wantErr: true,
		},
		{name: "unknown kind", interaction: valid(func(i *Interaction) { i.Kind = "poke" }), wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.interaction.Validate()
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidInteraction) {
					t.Fatalf("error = %v, want ErrInvalidInteraction", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInteractionInGuild(t *testing.T) {
	t.Parallel()

	var missing *Interaction
	if missing.InGuild() {
		t.Fatal("nil interaction reported guild")
	}
	if (&Interaction{}).InGuild() {
		t.Fatal("dm interaction reported guild")
	}
	if !(&Interaction{GuildID: "g-1"}).InGuild() {
		t.Fatal("guild interaction not reported as guild")
	}
}
