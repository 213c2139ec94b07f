// Imprime os scripts que a shell injeta no browser embutido. O build da shell
// roda isto e embute a saída, para o script e o agente nunca divergirem.
package main

import (
	"flag"
	"fmt"
	"time"

	"join-sentinel/internal/capture"
)

func main() {
	interval := flag.Duration("interval", 500*time.Millisecond, "intervalo entre sondagens na página")
	budget := flag.Duration("budget", 30*time.Second, "teto da sessão de captura")
	clear := flag.Bool("clear", false, "imprime o script de limpeza de storage em vez do de sondagem")
	flag.Parse()

	if *clear {
		fmt.Println(capture.ClearScript)
		return
	}
	fmt.Println(capture.BuildProbeScript(*interval, *budget))
}
