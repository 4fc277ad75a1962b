package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// =============================================================================
// Alumni Handlers
// =============================================================================

func runAlumniList(cmd *cobra.Command, opts *globalOptions) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	alumni, err := client.REST.ListAlumni(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDEGREE\tFACULTY\tGRADUATED\tCOMPANY")
	for _, a := range alumni {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, alumniName(a), a.Degree, a.Faculty, a.GraduationDate, deref(a.Company))
	}
	return w.Flush()
}

func runAlumniGet(cmd *cobra.Command, opts *globalOptions, id int64) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	a, err := client.REST.GetAlumni(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (id %d)\n", alumniName(*a), a.ID)
	field(out, "email", a.Email)
	field(out, "degree", a.Degree)
	field(out, "faculty", a.Faculty)
	field(out, "major", deref(a.Major))
	field(out, "graduated", a.GraduationDate)
	field(out, "job", strings.TrimSpace(deref(a.CurrentJob)+" "+deref(a.Company)))
	field(out, "location", strings.Trim(deref(a.City)+", "+deref(a.Country), ", "))
	field(out, "phone", deref(a.Phone))
	if len(a.SocialLinks) > 0 {
		field(out, "links", strings.Join(a.SocialLinks, " "))
	}
	if bio := deref(a.Biography); bio != "" {
		fmt.Fprintf(out, "\n%s\n", bio)
	}
	return nil
}

func runAlumniDelete(cmd *cobra.Command, opts *globalOptions, id int64) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.REST.DeleteAlumni(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted alumni %d.\n", id)
	return nil
}

// =============================================================================
// Event Handlers
// =============================================================================

func runEventsList(cmd *cobra.Command, opts *globalOptions, all bool) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	var events []rest.Event
	if all {
		events, err = client.REST.ListAdminEvents(cmd.Context())
	} else {
		events, err = client.REST.ListEvents(cmd.Context())
	}
	if err != nil {
		return err
	}
	return printEvents(cmd.OutOrStdout(), events)
}

func runEventsMine(cmd *cobra.Command, opts *globalOptions) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.REST.MyEvents(cmd.Context())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "You have not registered for any events.")
		return nil
	}
	return printEvents(cmd.OutOrStdout(), events)
}

func runEventShow(cmd *cobra.Command, opts *globalOptions, id int64) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	ev, err := client.REST.GetEvent(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (id %d)\n", ev.Title, ev.ID)
	field(out, "when", ev.Date.Local().Format("Mon Jan 2 2006 15:04"))
	field(out, "where", ev.Location)
	field(out, "status", string(ev.Status))
	if ev.Capacity != nil {
		field(out, "seats", fmt.Sprintf("%d/%d", ev.AttendeeCount, *ev.Capacity))
	}
	if ev.RegistrationDeadline != nil {
		field(out, "register by", ev.RegistrationDeadline.Local().Format("Jan 2 15:04"))
	}
	field(out, "organizer", deref(ev.OrganizerInfo))
	if ev.IsRegistered {
		field(out, "you", "registered")
	}
	if ev.Description != "" {
		fmt.Fprintf(out, "\n%s\n", ev.Description)
	}
	return nil
}

func runEventRegister(cmd *cobra.Command, opts *globalOptions, id int64) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.REST.RegisterForEvent(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered for event %d.\n", id)
	return nil
}

func runEventCancel(cmd *cobra.Command, opts *globalOptions, id int64) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.REST.CancelEventRegistration(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registration for event %d cancelled.\n", id)
	return nil
}

func printEvents(out io.Writer, events []rest.Event) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTITLE\tLOCATION\tSTATUS")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.Date.Local().Format("2006-01-02 15:04"), ev.Title, ev.Location, ev.Status)
	}
	return w.Flush()
}

func alumniName(a rest.Alumni) string {
	if a.FullName != "" {
		return a.FullName
	}
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

func field(out io.Writer, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(out, "  %-12s %s\n", name+":", value)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
