package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ChuLiYu/stress-lab/internal/controller"
)

const consoleHelp = `Comandos:
  start              iniciar monitoreo periódico
  stop               detener monitoreo
  once               chequeo manual
  duration <5|10|15> seleccionar duración del temporizador
  timer [título]     iniciar temporizador
  cancel             detener temporizador
  relief             alivio rápido (cancela el temporizador)
  status             mostrar estado
  help               mostrar esta ayuda
  quit               salir`

// runConsole reads commands from in until quit, EOF or ctx is done,
// rendering the controller view to out after each command.
func runConsole(ctx context.Context, ctrl *controller.Controller, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, consoleHelp)
	ctrl.Refresh()
	renderView(out, ctrl.View())

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return scanner.Err()
			}
			if quit := execute(ctx, ctrl, line, out); quit {
				return nil
			}
		}
	}
}

// execute runs one console command and reports whether the console should exit
func execute(ctx context.Context, ctrl *controller.Controller, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "start":
		err = ctrl.StartMonitoring(ctx)
	case "stop":
		err = ctrl.StopMonitoring(ctx)
	case "once":
		err = ctrl.RunOnce(ctx)
	case "duration":
		if len(fields) != 2 {
			fmt.Fprintln(out, "uso: duration <5|10|15>")
			return false
		}
		minutes, convErr := strconv.Atoi(fields[1])
		if convErr != nil {
			fmt.Fprintf(out, "duración inválida: %s\n", fields[1])
			return false
		}
		err = ctrl.SelectDuration(minutes)
	case "timer":
		err = ctrl.StartTimer(ctx, strings.Join(fields[1:], " "))
	case "cancel":
		err = ctrl.StopTimer(ctx)
	case "relief":
		err = ctrl.QuickRelief(ctx)
	case "status":
	case "help":
		fmt.Fprintln(out, consoleHelp)
		return false
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(out, "comando desconocido: %s (escribe 'help')\n", fields[0])
		return false
	}

	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	ctrl.Refresh()
	renderView(out, ctrl.View())
	return false
}

func renderView(out io.Writer, v controller.View) {
	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintf(out, "Estado: %s\n", v.Status)
	fmt.Fprintf(out, "Worker: %s\n", v.WorkerStatus)
	fmt.Fprintf(out, "Última acción: %s\n", v.LastAction)
	fmt.Fprintf(out, "Temporizador: %s (duración: %d min)\n", v.TimerStatus, v.Duration)
	fmt.Fprintln(out, "Registro:")
	for _, l := range v.Logs {
		fmt.Fprintf(out, "  %s\n", l)
	}
}
