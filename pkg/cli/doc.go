/*
Package cli provides command-line helpers for the costgate command.

Output Formatting:

Command results can be printed as text, JSON, YAML or CSV. Results that
implement Tabular, or are a Table, print as aligned columns in text mode and
are the only values CSV accepts:

	format, err := cli.ParseOutputFormat(flagOutput)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, result)

Progress Reporting:

Bulk operations such as budget import report progress on stderr:

	progress := cli.NewProgressReporter(nil)
	progress.Start(int64(len(items)))
	for i := range items {
		// Do work
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps command errors to process exit statuses: 2 for configuration
and validation errors, 3 for rate-limit, circuit or budget rejections, 4 when
a store or the server is unavailable, and 1 otherwise.
*/
package cli
