package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/pkg/dto"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Recognize the face in an image",
	Long: `Match the most prominent face of the image against the user's gallery.
A match records a sighting of the person.`,
	Example: `  visagectl recognize party.jpg --user u1
  visagectl recognize party.jpg --user u1 --threshold 0.35 --add-angle`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Float64("threshold", 0, "match threshold (0 = configured recognition.match_threshold)")
	recognizeCmd.Flags().Bool("add-angle", false, "store the face as another angle of the matched person")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Recognize(cmd.Context(), recognition.RecognizeRequest{
		UserID:    userID,
		Filename:  filepath.Base(args[0]),
		Image:     data,
		Threshold: mustGetFloat64(cmd, "threshold"),
		AddAngle:  mustGetBool(cmd, "add-angle"),
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(dto.RecognizeResponse{
			Recognized: res.Recognized(),
			Outcome:    string(res.Outcome),
			Person:     dto.NewPersonResponse(res.Person),
			Distance:   res.Distance,
			Threshold:  res.Threshold,
			PhotoID:    res.PhotoID,
			Face:       dto.NewFaceResponse(res.Face),
			AngleAdded: res.AngleAdded,
		})
	}

	switch {
	case res.Recognized():
		fmt.Printf("Recognized %s (distance %.3f < %.2f), met %d times, first on %s\n",
			res.Person.Name, *res.Distance, res.Threshold, res.Person.TimesMet,
			res.Person.FirstMetAt.Format("2006-01-02"))
		if res.Person.Context != "" {
			fmt.Printf("  Context: %s\n", res.Person.Context)
		}
	case res.Distance != nil:
		fmt.Printf("No match (closest distance %.3f >= %.2f)\n", *res.Distance, res.Threshold)
	default:
		fmt.Println("No match (gallery is empty)")
	}
	return nil
}
