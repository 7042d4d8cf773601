package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/pkg/dto"
)

var findCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Find people whose name contains <name>",
	Long: `Case- and accent-insensitive substring search over the user's people,
most recently seen first.`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the user's people, most recently seen first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete the most recently seen person whose name contains <name>",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)

	listCmd.Flags().Int("limit", 100, "maximum number of people")
}

func runFind(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	people, err := a.svc.SearchPeople(cmd.Context(), userID, args[0])
	if err != nil {
		return err
	}
	return printPeople(people)
}

func runList(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	people, err := a.svc.ListPeople(cmd.Context(), userID, limit, 0)
	if err != nil {
		return err
	}
	return printPeople(people)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.svc.DeleteByName(cmd.Context(), userID, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(dto.NewPersonResponse(p))
	}
	fmt.Printf("Deleted %s (%s)\n", p.Name, p.ID)
	return nil
}

func printPeople(people []models.Person) error {
	if jsonOutput {
		return printJSON(dto.NewPersonList(people))
	}
	if len(people) == 0 {
		fmt.Println("No people found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIMES MET\tLAST SEEN\tCONTEXT\tID")
	for _, p := range people {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			p.Name, p.TimesMet, p.LastSeenAt.Local().Format(time.DateTime), p.Context, p.ID)
	}
	return w.Flush()
}
