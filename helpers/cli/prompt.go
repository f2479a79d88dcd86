package cli

import (
	"bufio"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// MainLoop runs exec for every input line: prompt on terminal, plain lines from pipe.
// Signals call stop, process exits when stop is nil.
func MainLoop(tag string, exec func(line string), complete prompt.Completer, stop func()) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		for range signalCh {
			if stop == nil {
				os.Exit(1)
			}
			stop()
			os.Exit(0)
		}
	}()

	if IsInteractive() {
		prompt.New(exec, complete,
			prompt.OptionTitle(tag),
			prompt.OptionPrefix(tag+"> "),
		).Run()
		return
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			exec(line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatal(err)
	}
}
