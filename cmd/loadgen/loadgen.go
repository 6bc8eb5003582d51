package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/party"
)

var addr = flag.String("addr", "localhost:8080", "server to stress")
var nPerParty = flag.Int("nc", 100, "number of clients per party")
var defaultPartyID = flag.String("party", "testparty", "the party id")

func main() {

	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var clients []*party.Client
	for i := 0; i < (*nPerParty - 1); i++ {
		user := fmt.Sprintf("loadgen-%d", i)
		c, e := party.Connect(nil, "ws://"+*addr+"/ws", *defaultPartyID, user, "")
		if e != nil {
			log.Fatal().Err(e).Int("n", i).Msg("connect failed")
		}
		go c.ClientSendHeartbeat()
		go c.ClientHandleRecv()
		clients = append(clients, c)
	}
	log.Info().Int("clients", len(clients)).Str("party", *defaultPartyID).Msg("clients joined")

	c, e := party.Connect(nil, "ws://"+*addr+"/ws", *defaultPartyID, "loadgen-last", "")
	if e != nil {
		log.Fatal().Err(e).Msg("connect failed")
	}
	go c.ClientHandleRecv()
	c.ClientSendHeartbeat()
}
