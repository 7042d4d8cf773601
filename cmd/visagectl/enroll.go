package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/pkg/dto"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>",
	Short: "Enroll the face in an image as a new person",
	Example: `  visagectl enroll alice.jpg --user u1 --name "Alice" --context "met at the conference"`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <dir>",
	Short: "Enroll one person per sub-directory of images",
	Long: `Each sub-directory of <dir> is one person, named after the directory.
The first usable image creates the person; every further image is added as
another angle. Images without a usable face are skipped and reported.`,
	Example: `  visagectl enroll-dir ./people --user u1`,
	Args:    cobra.ExactArgs(1),
	RunE:    runEnrollDir,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(enrollDirCmd)

	enrollCmd.Flags().String("name", "", "person name (required)")
	enrollCmd.Flags().String("context", "", "where or how you met")
	enrollCmd.Flags().String("transcript", "", "conversation snippet to keep with the photo")
	_ = enrollCmd.MarkFlagRequired("name")
}

func runEnroll(cmd *cobra.Command, args []string) error {
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

	res, err := a.svc.FirstMeeting(cmd.Context(), recognition.FirstMeetingRequest{
		UserID:     userID,
		Filename:   filepath.Base(args[0]),
		Image:      data,
		Name:       mustGetString(cmd, "name"),
		Context:    mustGetString(cmd, "context"),
		Transcript: mustGetString(cmd, "transcript"),
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(dto.FirstMeetingResponse{
			Person:       dto.NewPersonResponse(res.Person),
			PhotoID:      res.PhotoID,
			Face:         dto.NewFaceResponse(res.Face),
			Deduplicated: res.Deduplicated,
			Distance:     res.Distance,
		})
	}
	if res.Deduplicated {
		fmt.Printf("Face matched existing person %s (%s) at distance %.3f; added as another angle\n",
			res.Person.Name, res.Person.ID, *res.Distance)
		return nil
	}
	fmt.Printf("Enrolled %s as %s\n", res.Person.Name, res.Person.ID)
	return nil
}

// personDir is one person's images from an enroll-dir tree.
type personDir struct {
	Name   string
	Images []string
}

var errNoUsableImage = errors.New("no image with a usable face")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// scanPeopleDirs lists the sub-directories of root that hold at least one
// image, sorted by name. Images within a directory are sorted too.
func scanPeopleDirs(root string) ([]personDir, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var out []personDir
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		pd := personDir{Name: e.Name()}
		for _, f := range files {
			if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			pd.Images = append(pd.Images, filepath.Join(root, e.Name(), f.Name()))
		}
		if len(pd.Images) == 0 {
			continue
		}
		sort.Strings(pd.Images)
		out = append(out, pd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type enrollDirSummary struct {
	People  int      `json:"people"`
	Angles  int      `json:"angles"`
	Skipped []string `json:"skipped,omitempty"`
}

// enroller is the part of the recognition service enroll-dir drives.
type enroller interface {
	FirstMeeting(ctx context.Context, req recognition.FirstMeetingRequest) (*recognition.FirstMeetingResult, error)
	AddAngle(ctx context.Context, req recognition.AddAngleRequest) (*models.Encoding, error)
}

// enrollPerson enrolls pd: the first usable image creates the person and the
// rest become angles. Rejected images are skipped; other errors abort.
func enrollPerson(ctx context.Context, svc enroller, user string, pd personDir, step func()) (angles int, skipped []string, err error) {
	var person *models.Person
	for _, path := range pd.Images {
		data, err := os.ReadFile(path)
		if err != nil {
			return angles, skipped, err
		}

		if person == nil {
			res, err := svc.FirstMeeting(ctx, recognition.FirstMeetingRequest{
				UserID: user, Filename: filepath.Base(path), Image: data, Name: pd.Name,
			})
			switch {
			case err == nil:
				person = res.Person
			case errors.Is(err, gate.ErrNoUsableFace), errors.Is(err, gate.ErrInvalidImage):
				skipped = append(skipped, fmt.Sprintf("%s: %v", path, err))
			default:
				return angles, skipped, err
			}
		} else {
			_, err := svc.AddAngle(ctx, recognition.AddAngleRequest{
				UserID: user, PersonID: person.ID, Filename: filepath.Base(path), Image: data,
			})
			switch {
			case err == nil:
				angles++
			case errors.Is(err, gate.ErrNoUsableFace), errors.Is(err, gate.ErrInvalidImage):
				skipped = append(skipped, fmt.Sprintf("%s: %v", path, err))
			default:
				return angles, skipped, err
			}
		}
		step()
	}
	if person == nil {
		return angles, skipped, fmt.Errorf("%s: %w", pd.Name, errNoUsableImage)
	}
	return angles, skipped, nil
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	dirs, err := scanPeopleDirs(args[0])
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no person directories with images under %s", args[0])
	}

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	total := 0
	for _, d := range dirs {
		total += len(d.Images)
	}

	step := func() {}
	if !jsonOutput {
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		defer bar.Finish()
		step = func() { _ = bar.Add(1) }
	}

	var summary enrollDirSummary
	for _, d := range dirs {
		angles, skipped, err := enrollPerson(cmd.Context(), a.svc, userID, d, step)
		summary.Angles += angles
		summary.Skipped = append(summary.Skipped, skipped...)
		if err != nil {
			if errors.Is(err, errNoUsableImage) {
				summary.Skipped = append(summary.Skipped, err.Error())
				continue
			}
			return err
		}
		summary.People++
	}

	if jsonOutput {
		return printJSON(summary)
	}
	fmt.Printf("\nEnrolled %d people with %d additional angles\n", summary.People, summary.Angles)
	if len(summary.Skipped) > 0 {
		fmt.Printf("Skipped %d:\n", len(summary.Skipped))
		for _, s := range summary.Skipped {
			fmt.Printf("  %s\n", s)
		}
	}
	return nil
}
