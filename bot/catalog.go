// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bot

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// czech translates replies. Message keys are the English texts.
var czech = [][2]string{
	{"Help", "Nápověda"},
	{"Lists the available commands or shows help for the given one.", "Pokud nebyl určen příkaz, vypíše seznam dostupných příkazů. V opačném případě vypíše nápovědu k danému příkazu."},
	{"Commands", "Příkazy"},
	{"Lists the available commands.", "Vypíše seznam dostupných příkazů."},
	{"Level", "Level"},
	{"Shows the access level of the sender.", "Vypíše úroveň přístupu odesilatele."},
	{"Uptime", "Doba běhu"},
	{"Shows how long the bot has been running.", "Vypíše, jak dlouho bot běží."},
	{"Plugins", "Pluginy"},
	{"Lists the loaded plugins.", "Vypíše načtené pluginy."},
	{"Load", "Načíst"},
	{"Loads a plugin.", "Načte plugin."},
	{"Unload", "Odebrat"},
	{"Unloads a plugin.", "Odebere plugin."},
	{"Reload", "Znovu načíst"},
	{"Unloads and loads a plugin again.", "Odebere a znovu načte plugin."},
	{"Rehash", "Rehash"},
	{"Reads the configuration again and reloads plugins without disconnecting.", "Znovu načíst konfiguraci a pluginy bota aniž by se odpojil z jabberu."},
	{"Restart", "Restart"},
	{"Restarts the bot and connects again.", "Restartovat bota a znovu připojit..."},
	{"Die", "Die"},
	{"Shuts the bot down.", "Killnout bota."},
	{"Join", "Připojit"},
	{"Joins a room.", "Připojí se do místnosti."},
	{"Leave", "Odejít"},
	{"Leaves a room.", "Odejde z místnosti."},
	{"You are at level %d.", "Jsi na levelu %d."},
	{"Up for %s.", "Běžím už %s."},
	{"Loaded plugins: %s", "Načtené pluginy: %s"},
	{"Loaded %s.", "Plugin %s načten."},
	{"Could not load %s: %v", "Plugin %s se nepodařilo načíst: %v"},
	{"Unloaded %s.", "Plugin %s odebrán."},
	{"Could not unload %s: %v", "Plugin %s se nepodařilo odebrat: %v"},
	{"Reloaded %s.", "Plugin %s znovu načten."},
	{"Could not reload %s: %v", "Plugin %s se nepodařilo znovu načíst: %v"},
	{"Rehash failed: %v", "Rehash selhal: %v"},
	{"Rehashed.", "Rehashnuto, šéfiku."},
	{"Restarting...", "Restartuji, šéfiku."},
	{"Dying...", "Umírám..."},
	{"Available commands:", "Dostupné příkazy:"},
	{"I don't know that one.", "Neznám, neumím..."},
	{"Usage: %s%s", "Použití: %s%s"},
	{"Which plugin?", "Který plugin?"},
	{"Which room?", "Která místnost?"},
	{"Invalid room address %s.", "Neplatná adresa místnosti %s."},
	{"Rooms are not available.", "Místnosti nejsou k dispozici."},
	{"Could not join %s: %v", "Do místnosti %s se nepodařilo připojit: %v"},
	{"Joining %s.", "Připojuji se do %s."},
	{"I am not in %s.", "V místnosti %s nejsem."},
	{"Could not leave %s: %v", "Z místnosti %s se nepodařilo odejít: %v"},
	{"Left %s.", "Odešel jsem z %s."},
}

func init() {
	if err := Translations(language.Czech, czech); err != nil {
		panic(err)
	}
}

// Translations registers translations of message keys, for instance the
// summaries and replies of a plugin's commands.
// Each pair is a key followed by its translation.
func Translations(tag language.Tag, pairs [][2]string) error {
	for _, p := range pairs {
		if err := message.SetString(tag, p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}
