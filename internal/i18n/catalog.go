package i18n

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message IDs. The core components pass these with structured arguments;
// the catalog owns every user-visible string.
const (
	KeyDuckSpawn       = "duck.spawn"
	KeyDuckSpawnGolden = "duck.spawn.golden"
	KeyDuckFlyAway     = "duck.flyaway"
	KeyDetectorApprox  = "detector.approx"
	KeyDetectorSoon    = "detector.soon"

	KeyBangKill        = "bang.kill"
	KeyBangHit         = "bang.hit"
	KeyBangMiss        = "bang.miss"
	KeyBangNoDuck      = "bang.noduck"
	KeyBangEmpty       = "bang.empty"
	KeyBangJammed      = "bang.jammed"
	KeyBangConfiscated = "bang.confiscated"
	KeyBangLocked      = "bang.locked"

	KeyBefDone   = "bef.done"
	KeyBefNoDuck = "bef.noduck"

	KeyReloadDone    = "reload.done"
	KeyReloadFull    = "reload.full"
	KeyReloadNoMags  = "reload.nomags"
	KeyReloadCleared = "reload.cleared"

	KeyShopDetector  = "shop.detector"
	KeyShopCall      = "shop.call"
	KeyShopCallBurst = "shop.call.burst"
	KeyShopUnknown   = "shop.unknown"
	KeyShopNoXP      = "shop.noxp"

	KeyLastDuck      = "lastduck"
	KeyLastDuckNever = "lastduck.never"
	KeyNextDuckSoon  = "nextduck.soon"

	KeyAdminDenied        = "admin.denied"
	KeyAdminBackupDone    = "admin.backup.done"
	KeyAdminBackupList    = "admin.backup.list"
	KeyAdminBackupNone    = "admin.backup.none"
	KeyAdminRestoreDone   = "admin.restore.done"
	KeyAdminRestoreNoSuch = "admin.restore.nosuch"
	KeyAdminClearDone     = "admin.clear.done"
	KeyAdminFailed        = "admin.failed"
)

// supported lists the built-in locales; English is the fallback for
// every unmatched tag and the source of truth for message coverage.
var supported = []language.Tag{
	language.English,
	language.French,
}

type entry struct {
	key  string
	text string
}

var enMessages = []entry{
	{KeyDuckSpawn, `\_o< QUACK`},
	{KeyDuckSpawnGolden, `\_O< QUAACK — a golden duck!`},
	{KeyDuckFlyAway, `The duck flies away.  ·°'` + "`" + `'°·`},
	{KeyDetectorApprox, "Your duck detector chirps: next duck in approximately %dm"},
	{KeyDetectorSoon, "Your duck detector chirps: next duck in less than 1m"},

	{KeyBangKill, `%s you shot down the duck in %.3fs! \_x<   +%d xp`},
	{KeyBangHit, `%s the duck is hit but keeps flying! \_ö<`},
	{KeyBangMiss, "%s you missed.   -%d xp"},
	{KeyBangNoDuck, "%s luckily for you there was no duck. Wild fire!   -%d xp"},
	{KeyBangEmpty, "%s your magazine is empty!   [%d/%d] Reload with !reload"},
	{KeyBangJammed, "%s CLACK your gun is jammed. Reload to clear it."},
	{KeyBangConfiscated, "%s your gun was confiscated. Wait for the next duck to leave."},
	{KeyBangLocked, "%s the trigger lock holds. No shot fired."},

	{KeyBefDone, "%s you befriended the duck! <3   +%d xp"},
	{KeyBefNoDuck, "%s there is no duck to befriend."},

	{KeyReloadDone, "%s you reload.   [%d/%d] magazines [%d/%d]"},
	{KeyReloadFull, "%s your magazine is already full.   [%d/%d]"},
	{KeyReloadNoMags, "%s you are out of magazines!   [0/%d]"},
	{KeyReloadCleared, "%s you clear the jam and reload.   [%d/%d]"},

	{KeyShopDetector, "%s duck detector armed for 24h.   -%d xp"},
	{KeyShopCall, "%s you blow the duck call.   -%d xp"},
	{KeyShopCallBurst, "%s distant quacking answers: %d duck(s) inbound."},
	{KeyShopUnknown, "%s that item is not on the shelf."},
	{KeyShopNoXP, "%s you cannot afford that.   (%d xp needed, you have %d)"},

	{KeyLastDuck, "%s the last duck was seen %s ago."},
	{KeyLastDuckNever, "%s no duck has been seen here yet."},
	{KeyNextDuckSoon, "%s you scan the horizon. Something will happen, soon."},

	{KeyAdminDenied, "%s this command is reserved for the channel wardens."},
	{KeyAdminBackupDone, "%s stats backup %s saved (%d rows)."},
	{KeyAdminBackupList, "%s backups: %s"},
	{KeyAdminBackupNone, "%s no backups for this channel."},
	{KeyAdminRestoreDone, "%s backup %s restored."},
	{KeyAdminRestoreNoSuch, "%s no such backup: %s"},
	{KeyAdminClearDone, "%s channel stats cleared. A backup was taken first."},
	{KeyAdminFailed, "%s the archive room is locked. Try again later."},
}

var frMessages = []entry{
	{KeyDuckSpawn, `\_o< COIN`},
	{KeyDuckSpawnGolden, `\_O< COIIIN — un canard doré !`},
	{KeyDuckFlyAway, `Le canard s'envole.  ·°'` + "`" + `'°·`},
	{KeyDetectorApprox, "Votre détecteur de canards frémit : prochain canard dans environ %dm"},
	{KeyDetectorSoon, "Votre détecteur de canards frémit : prochain canard dans moins d'1m"},

	{KeyBangKill, `%s vous avez abattu le canard en %.3fs ! \_x<   +%d xp`},
	{KeyBangHit, `%s le canard est touché mais vole toujours ! \_ö<`},
	{KeyBangMiss, "%s raté.   -%d xp"},
	{KeyBangNoDuck, "%s heureusement pour vous, il n'y avait pas de canard. Tir sauvage !   -%d xp"},
	{KeyBangEmpty, "%s votre chargeur est vide !   [%d/%d] Rechargez avec !reload"},
	{KeyBangJammed, "%s CLACK votre arme s'enraye. Rechargez pour la dégager."},
	{KeyBangConfiscated, "%s votre arme a été confisquée. Attendez le départ du prochain canard."},
	{KeyBangLocked, "%s le verrou de détente tient bon. Aucun tir."},

	{KeyBefDone, "%s vous avez apprivoisé le canard ! <3   +%d xp"},
	{KeyBefNoDuck, "%s il n'y a pas de canard à apprivoiser."},

	{KeyReloadDone, "%s vous rechargez.   [%d/%d] chargeurs [%d/%d]"},
	{KeyReloadFull, "%s votre chargeur est déjà plein.   [%d/%d]"},
	{KeyReloadNoMags, "%s plus de chargeurs !   [0/%d]"},
	{KeyReloadCleared, "%s vous dégagez l'enrayage et rechargez.   [%d/%d]"},

	{KeyShopDetector, "%s détecteur de canards armé pour 24h.   -%d xp"},
	{KeyShopCall, "%s vous soufflez dans l'appeau.   -%d xp"},
	{KeyShopCallBurst, "%s des coins lointains répondent : %d canard(s) en approche."},
	{KeyShopUnknown, "%s cet article n'est pas en rayon."},
	{KeyShopNoXP, "%s vous n'avez pas les moyens.   (%d xp requis, vous avez %d)"},

	{KeyLastDuck, "%s le dernier canard a été vu il y a %s."},
	{KeyLastDuckNever, "%s aucun canard n'a encore été vu ici."},
	{KeyNextDuckSoon, "%s vous scrutez l'horizon. Quelque chose arrive, bientôt."},

	{KeyAdminDenied, "%s cette commande est réservée aux gardes-chasse."},
	{KeyAdminBackupDone, "%s sauvegarde %s enregistrée (%d lignes)."},
	{KeyAdminBackupList, "%s sauvegardes : %s"},
	{KeyAdminBackupNone, "%s aucune sauvegarde pour ce canal."},
	{KeyAdminRestoreDone, "%s sauvegarde %s restaurée."},
	{KeyAdminRestoreNoSuch, "%s aucune sauvegarde nommée %s"},
	{KeyAdminClearDone, "%s statistiques du canal effacées. Une sauvegarde a été prise avant."},
	{KeyAdminFailed, "%s la salle des archives est verrouillée. Réessayez plus tard."},
}

// Catalog resolves (language, message ID, arguments) to formatted text.
// It satisfies the Localizer contract used by the scheduler and the game
// handler. Unknown languages fall back to English; unknown keys come
// back as the key itself so a missing translation is visible, not
// silent.
type Catalog struct {
	matcher  language.Matcher
	mu       sync.RWMutex
	printers map[language.Tag]*message.Printer
}

// NewCatalog builds the compiled-in catalog.
func NewCatalog() *Catalog {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	register(builder, language.English, enMessages)
	register(builder, language.French, frMessages)

	printers := make(map[language.Tag]*message.Printer, len(supported))
	for _, tag := range supported {
		printers[tag] = message.NewPrinter(tag, message.Catalog(builder))
	}
	return &Catalog{
		matcher:  language.NewMatcher(supported),
		printers: printers,
	}
}

func register(builder *catalog.Builder, tag language.Tag, messages []entry) {
	for _, m := range messages {
		if err := builder.SetString(tag, m.key, m.text); err != nil {
			panic("i18n: registering " + m.key + ": " + err.Error())
		}
	}
}

// T formats the message for the best-matching supported language.
func (c *Catalog) T(lang, key string, args ...interface{}) string {
	tag := language.English
	if parsed, err := language.Parse(strings.TrimSpace(lang)); err == nil {
		_, idx, _ := c.matcher.Match(parsed)
		tag = supported[idx]
	}

	c.mu.RLock()
	printer := c.printers[tag]
	c.mu.RUnlock()
	if printer == nil {
		printer = c.printers[language.English]
	}
	return printer.Sprintf(key, args...)
}

// Languages returns the locale codes the catalog can serve.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(supported))
	for _, tag := range supported {
		out = append(out, tag.String())
	}
	return out
}
